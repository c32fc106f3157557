package justthetip

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/justthetip/internal/types"
)

// Tag is the leading instruction byte.
type Tag uint8

const (
	TagInitializeUser Tag = iota
	TagCreateTip
	TagExecuteTip
	TagCancelTip
	TagCollectFunds
	TagDistributeAirdrop
	TagRefundEscrow
	TagClaimAirdrop
)

var tagNames = [...]string{
	TagInitializeUser:    "InitializeUser",
	TagCreateTip:         "CreateTip",
	TagExecuteTip:        "ExecuteTip",
	TagCancelTip:         "CancelTip",
	TagCollectFunds:      "CollectFunds",
	TagDistributeAirdrop: "DistributeAirdrop",
	TagRefundEscrow:      "RefundEscrow",
	TagClaimAirdrop:      "ClaimAirdrop",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// MaxRecipients bounds the recipient list of a DistributeAirdrop.
const MaxRecipients = 50

// Instruction is one of the eight program instructions.
type Instruction interface {
	Tag() Tag
}

// InitializeUser creates the registry record for UserID.
type InitializeUser struct {
	UserID string
}

// CreateTip records a pending tip of Amount to Recipient.
type CreateTip struct {
	Amount    uint64
	Recipient types.Pubkey
}

// ExecuteTip pays out and closes the tip at TipID.
type ExecuteTip struct {
	TipID [32]byte
}

// CancelTip closes the tip at TipID without paying it.
type CancelTip struct {
	TipID [32]byte
}

// CollectFunds moves TotalAmount into the pool for AirdropID.
type CollectFunds struct {
	TotalAmount uint64
	AirdropID   [32]byte
}

// AirdropRecipient is one payout of a DistributeAirdrop.
type AirdropRecipient struct {
	Recipient types.Pubkey
	Amount    uint64
}

// DistributeAirdrop pays the fee and every recipient, then closes the pool.
type DistributeAirdrop struct {
	AirdropID     [32]byte
	Recipients    []AirdropRecipient
	FeeWallet     types.Pubkey
	FeePercentage uint8
}

// RefundEscrow returns the pool to its creator and closes it.
type RefundEscrow struct {
	AirdropID [32]byte
}

// ClaimAirdrop withdraws Amount from the pool to Recipient.
type ClaimAirdrop struct {
	AirdropID [32]byte
	Recipient types.Pubkey
	Amount    uint64
}

func (InitializeUser) Tag() Tag    { return TagInitializeUser }
func (CreateTip) Tag() Tag         { return TagCreateTip }
func (ExecuteTip) Tag() Tag        { return TagExecuteTip }
func (CancelTip) Tag() Tag         { return TagCancelTip }
func (CollectFunds) Tag() Tag      { return TagCollectFunds }
func (DistributeAirdrop) Tag() Tag { return TagDistributeAirdrop }
func (RefundEscrow) Tag() Tag      { return TagRefundEscrow }
func (ClaimAirdrop) Tag() Tag      { return TagClaimAirdrop }

// EncodeInstruction serializes ix as its tag byte followed by the Borsh
// payload.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(ix.Tag()))
	if err := bin.NewBorshEncoder(&buf).Encode(ix); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ix.Tag(), err)
	}
	return buf.Bytes(), nil
}

// DecodeInstruction parses instruction data. Unknown tags, short payloads
// and trailing bytes fail with ErrInvalidInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidInstruction)
	}
	payload := data[1:]

	switch tag := Tag(data[0]); tag {
	case TagInitializeUser:
		return decode[InitializeUser](payload)
	case TagCreateTip:
		return decode[CreateTip](payload)
	case TagExecuteTip:
		return decode[ExecuteTip](payload)
	case TagCancelTip:
		return decode[CancelTip](payload)
	case TagCollectFunds:
		return decode[CollectFunds](payload)
	case TagDistributeAirdrop:
		// airdrop_id precedes the recipient count
		if len(payload) < 36 {
			return nil, fmt.Errorf("%w: %s payload is %d bytes", ErrInvalidInstruction, tag, len(payload))
		}
		if n := binary.LittleEndian.Uint32(payload[32:36]); n > MaxRecipients {
			return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecipients, n, MaxRecipients)
		}
		return decode[DistributeAirdrop](payload)
	case TagRefundEscrow:
		return decode[RefundEscrow](payload)
	case TagClaimAirdrop:
		return decode[ClaimAirdrop](payload)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, uint8(tag))
	}
}

func decode[T Instruction](payload []byte) (Instruction, error) {
	var v T
	dec := bin.NewBorshDecoder(payload)
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInstruction, v.Tag(), err)
	}
	if n := dec.Remaining(); n != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrInvalidInstruction, v.Tag(), n)
	}
	return v, nil
}
