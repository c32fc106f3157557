// Package system implements the native System Program.
//
// The System Program is responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
//
// Instructions use a 4-byte little-endian discriminant followed by fixed
// little-endian fields.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

// ProgramID is the System Program address (all zeros).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Maximum account data size.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// InvokeContext is the part of svm.InvokeContext the System Program needs.
type InvokeContext interface {
	// GetAccount returns the account at the given index.
	GetAccount(index int) (*svm.AccountInfo, error)

	// MinimumBalance returns the rent-exempt minimum for given data size.
	MinimumBalance(dataLen uint64) uint64

	// Log records a log message.
	Log(format string, args ...interface{})
}

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ProgramID implements svm.Program.
func (p *Processor) ProgramID() types.Pubkey {
	return ProgramID
}

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	return p.Execute(ctx, data)
}

// Execute runs one System Program instruction against ctx.
func (p *Processor) Execute(ctx InvokeContext, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	instruction := binary.LittleEndian.Uint32(data[:4])

	switch instruction {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, data[4:])
	default:
		return fmt.Errorf("%w: unsupported discriminant %d", ErrInvalidInstructionData, instruction)
	}
}

// CreateAccountParams for CreateAccount instruction.
type CreateAccountParams struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// processCreateAccount creates a new account.
func (p *Processor) processCreateAccount(ctx InvokeContext, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) != 48 {
		return ErrInvalidInstructionData
	}

	params := CreateAccountParams{
		Lamports: binary.LittleEndian.Uint64(data[0:8]),
		Space:    binary.LittleEndian.Uint64(data[8:16]),
	}
	copy(params.Owner[:], data[16:48])

	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	// [0] = funding account, [1] = new account
	funder, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	if funder.Lamports < params.Lamports {
		return ErrInsufficientFunds
	}

	// New account must be empty: owned by the system program, no data, no balance.
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, newAccount.Key)
	}

	if params.Lamports < ctx.MinimumBalance(params.Space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= params.Lamports
	newAccount.Lamports = params.Lamports
	newAccount.Data = make([]byte, params.Space)
	newAccount.Owner = params.Owner

	ctx.Log("CreateAccount: %s space=%d owner=%s", newAccount.Key, params.Space, params.Owner)
	return nil
}

// processAssign changes the owner of an account.
func (p *Processor) processAssign(ctx InvokeContext, data []byte) error {
	if len(data) != 32 {
		return ErrInvalidInstructionData
	}

	var newOwner types.Pubkey
	copy(newOwner[:], data[0:32])

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = newOwner

	ctx.Log("Assign: %s owner=%s", account.Key, newOwner)
	return nil
}

// TransferParams for Transfer instruction.
type TransferParams struct {
	Lamports uint64
}

// processTransfer transfers lamports between accounts.
func (p *Processor) processTransfer(ctx InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}
	params := TransferParams{Lamports: binary.LittleEndian.Uint64(data[0:8])}

	// [0] = from, [1] = to
	from, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}

	if from.Lamports < params.Lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Key, from.Lamports, params.Lamports)
	}
	if from == to {
		return nil
	}
	if to.Lamports > ^uint64(0)-params.Lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= params.Lamports
	to.Lamports += params.Lamports

	ctx.Log("Transfer: %d lamports %s -> %s", params.Lamports, from.Key, to.Key)
	return nil
}

// processAllocate allocates space in an account.
func (p *Processor) processAllocate(ctx InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}

	space := binary.LittleEndian.Uint64(data[0:8])
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(account.Data) > 0 {
		return ErrAccountAlreadyInUse
	}

	account.Data = make([]byte, space)

	ctx.Log("Allocate: %s space=%d", account.Key, space)
	return nil
}
