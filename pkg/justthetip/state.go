package justthetip

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/justthetip/internal/types"
)

// Record sizes.
const (
	// MaxUserIDLen is the longest user identifier in bytes.
	MaxUserIDLen = 32

	// UserAccountSize is the allocation for a UserAccount at its longest
	// identifier: authority, length-prefixed id, three counters and bump.
	UserAccountSize = 32 + 4 + MaxUserIDLen + 8 + 8 + 8 + 1

	// TipRecordSize is the exact size of a TipRecord.
	TipRecordSize = 32 + 32 + 8 + 8

	// EscrowPoolSize is the exact size of an EscrowPool.
	EscrowPoolSize = 8 + 32
)

// Derived address seed labels.
var (
	userSeed   = []byte("user")
	escrowSeed = []byte("escrow")
)

// UserAccount is the per-user registry record.
type UserAccount struct {
	Authority     types.Pubkey
	UserID        string
	TotalSent     uint64
	TotalReceived uint64
	TipCount      uint64
	Bump          uint8
}

// MarshalTo writes the record at the start of dst and zeroes the rest.
func (u *UserAccount) MarshalTo(dst []byte) error {
	if len(u.UserID) > MaxUserIDLen {
		return fmt.Errorf("%w: user id is %d bytes", ErrInvalidAccountData, len(u.UserID))
	}
	b, err := encodeRecord(*u)
	if err != nil {
		return err
	}
	if len(b) > len(dst) {
		return fmt.Errorf("%w: user record is %d bytes, account holds %d", ErrInvalidAccountData, len(b), len(dst))
	}
	n := copy(dst, b)
	clear(dst[n:])
	return nil
}

// DecodeUserAccount parses a user record. Bytes past the record are padding.
func DecodeUserAccount(data []byte) (*UserAccount, error) {
	var u UserAccount
	if err := bin.NewBorshDecoder(data).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: user record: %v", ErrInvalidAccountData, err)
	}
	if len(u.UserID) == 0 || len(u.UserID) > MaxUserIDLen {
		return nil, fmt.Errorf("%w: user id is %d bytes", ErrInvalidAccountData, len(u.UserID))
	}
	return &u, nil
}

// TipRecord is a pending tip. The tip account's address is its id.
type TipRecord struct {
	Sender    types.Pubkey
	Recipient types.Pubkey
	Amount    uint64
	Timestamp int64
}

// Marshal returns the TipRecordSize-byte encoding.
func (t *TipRecord) Marshal() ([]byte, error) {
	return encodeRecord(*t)
}

// DecodeTipRecord parses a tip record of exactly TipRecordSize bytes.
func DecodeTipRecord(data []byte) (*TipRecord, error) {
	var t TipRecord
	if err := decodeExact(data, TipRecordSize, &t); err != nil {
		return nil, fmt.Errorf("tip record: %w", err)
	}
	return &t, nil
}

// EscrowPool is the record of an airdrop pool. Remaining is the amount the
// pool still owes; the account balance also carries the rent deposit.
type EscrowPool struct {
	Remaining uint64
	Creator   types.Pubkey
}

// Marshal returns the EscrowPoolSize-byte encoding.
func (p *EscrowPool) Marshal() ([]byte, error) {
	return encodeRecord(*p)
}

// DecodeEscrowPool parses a pool record of exactly EscrowPoolSize bytes.
func DecodeEscrowPool(data []byte) (*EscrowPool, error) {
	var p EscrowPool
	if err := decodeExact(data, EscrowPoolSize, &p); err != nil {
		return nil, fmt.Errorf("escrow pool: %w", err)
	}
	return &p, nil
}

func encodeRecord(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return buf.Bytes(), nil
}

func decodeExact(data []byte, size int, v interface{}) error {
	if len(data) != size {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidAccountData, len(data), size)
	}
	if err := bin.NewBorshDecoder(data).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return nil
}

// isBlank reports whether data holds no record yet.
func isBlank(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
