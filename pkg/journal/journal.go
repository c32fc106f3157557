// Package journal provides persistent storage for transaction receipts.
//
// Every transaction the runtime processes, successful or not, leaves one
// receipt. Receipts are gob-encoded, zstd-compressed and stored in BoltDB
// keyed by transaction signature, with a secondary index by slot.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/justthetip/internal/types"
)

var (
	// ErrReceiptNotFound is returned when no receipt exists for a signature.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrDuplicateReceipt is returned when a signature was already journaled.
	ErrDuplicateReceipt = errors.New("receipt already exists")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Bucket names for BoltDB.
var (
	// bucketReceipts stores compressed receipts keyed by signature.
	bucketReceipts = []byte("receipts")

	// bucketSlotIndex maps slot (8 bytes BE) + signature to nothing.
	bucketSlotIndex = []byte("slot_index")
)

// Receipt is the durable outcome of one transaction.
type Receipt struct {
	Signature        types.Signature
	Slot             uint64
	Success          bool
	ErrorCode        uint32
	Error            string
	InstructionIndex int
	Logs             []string
	ComputeUnits     uint64
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
	ProcessedAt      time.Time
}

// Config holds journal configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Journal is a BoltDB-backed receipt store. It is safe for concurrent use.
type Journal struct {
	db *bolt.DB

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.RWMutex
	count  uint64
	closed bool
}

// Open creates or opens a journal at the configured path.
func Open(config Config) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	j := &Journal{db: db, encoder: encoder, decoder: decoder}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketSlotIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		j.count = uint64(tx.Bucket(bucketReceipts).Stats().KeyN)
		return nil
	})
	if err != nil {
		j.closeCodecs()
		db.Close()
		return nil, err
	}
	return j, nil
}

func slotIndexKey(slot uint64, sig types.Signature) []byte {
	key := make([]byte, 8+64)
	binary.BigEndian.PutUint64(key, slot)
	copy(key[8:], sig[:])
	return key
}

// Append stores a receipt. A signature may be journaled only once.
func (j *Journal) Append(r *Receipt) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	compressed := j.encoder.EncodeAll(buf.Bytes(), nil)

	err := j.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		if receipts.Get(r.Signature[:]) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateReceipt, r.Signature)
		}
		if err := receipts.Put(r.Signature[:], compressed); err != nil {
			return err
		}
		return tx.Bucket(bucketSlotIndex).Put(slotIndexKey(r.Slot, r.Signature), nil)
	})
	if err != nil {
		return err
	}
	j.count++
	return nil
}

// Has reports whether a receipt exists for sig.
func (j *Journal) Has(sig types.Signature) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false, ErrClosed
	}

	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketReceipts).Get(sig[:]) != nil
		return nil
	})
	return found, err
}

// Get returns the receipt for sig.
func (j *Journal) Get(sig types.Signature) (*Receipt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var r *Receipt
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReceipts).Get(sig[:])
		if data == nil {
			return ErrReceiptNotFound
		}
		var err error
		r, err = j.decode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// BySlot returns every receipt recorded at slot, ordered by signature.
func (j *Journal) BySlot(slot uint64) ([]*Receipt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, slot)

	var out []*Receipt
	err := j.db.View(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		c := tx.Bucket(bucketSlotIndex).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := receipts.Get(k[8:])
			if data == nil {
				continue
			}
			r, err := j.decode(data)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Count returns the number of receipts stored.
func (j *Journal) Count() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.count
}

// Close closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.closed = true
	j.closeCodecs()
	return j.db.Close()
}

func (j *Journal) closeCodecs() {
	j.encoder.Close()
	j.decoder.Close()
}

func (j *Journal) decode(data []byte) (*Receipt, error) {
	raw, err := j.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress receipt: %w", err)
	}
	var r Receipt
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}
