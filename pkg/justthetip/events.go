package justthetip

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

// ErrInvalidEvent is returned by ParseEvents for a malformed event line.
var ErrInvalidEvent = errors.New("invalid event data")

const dataLogPrefix = "Program data: "

// Event is a structured record the program emits as a "Program data:" log.
// The payload is an 8-byte discriminator followed by the Borsh-encoded event.
type Event interface {
	EventName() string
}

// TokenType names the asset a tip moves. Tips are native only.
type TokenType uint8

const (
	TokenSOL TokenType = iota
	TokenSPL
)

// TipEvent is emitted when a tip is paid out.
type TipEvent struct {
	Sender    types.Pubkey
	Recipient types.Pubkey
	Amount    uint64
	TokenType TokenType
	Timestamp int64
}

func (TipEvent) EventName() string { return "TipEvent" }

// AirdropClaimEvent is emitted when a recipient claims from a pool.
type AirdropClaimEvent struct {
	Airdrop   types.Pubkey // pool address
	Claimer   types.Pubkey
	Amount    uint64
	Timestamp int64
}

func (AirdropClaimEvent) EventName() string { return "AirdropClaimEvent" }

// EventDiscriminator returns the first 8 bytes of sha256("event:" + name).
func EventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	tipEventDisc   = EventDiscriminator(TipEvent{}.EventName())
	claimEventDisc = EventDiscriminator(AirdropClaimEvent{}.EventName())
)

// EncodeEvent returns the discriminated payload for ev.
func EncodeEvent(ev Event) ([]byte, error) {
	disc := EventDiscriminator(ev.EventName())
	var buf bytes.Buffer
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(ev); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return buf.Bytes(), nil
}

func emitEvent(ctx svm.InvokeContext, ev Event) error {
	b, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	ctx.LogData(b)
	return nil
}

// DecodeEvent parses one discriminated payload. Payloads of events this
// program does not emit return (nil, nil).
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEvent, len(data))
	}
	var disc [8]byte
	copy(disc[:], data)

	var ev Event
	switch disc {
	case tipEventDisc:
		var e TipEvent
		if err := bin.NewBorshDecoder(data[8:]).Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		ev = e
	case claimEventDisc:
		var e AirdropClaimEvent
		if err := bin.NewBorshDecoder(data[8:]).Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		ev = e
	}
	return ev, nil
}

// ParseEvents extracts the events in a transaction's logs, in order.
// Other log lines and foreign events are skipped.
func ParseEvents(logs []string) ([]Event, error) {
	var events []Event
	for _, line := range logs {
		rest, ok := strings.CutPrefix(line, dataLogPrefix)
		if !ok {
			continue
		}
		for _, field := range strings.Fields(rest) {
			data, err := base64.StdEncoding.DecodeString(field)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			}
			ev, err := DecodeEvent(data)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}
