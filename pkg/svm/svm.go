// Package svm defines the execution model shared by the ledger runtime and
// the programs it hosts.
//
// A program never touches storage. For each instruction the runtime hands it
// an InvokeContext holding working copies of the accounts the instruction
// names, in instruction order. The program mutates those copies in place and
// may call into the native System Program through Invoke. When the program
// returns the runtime checks every change against the account rules and
// either keeps the copies for commit or discards the whole transaction.
package svm

import (
	"errors"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm/pda"
)

var (
	// ErrAccountNotFound is returned when an instruction references an
	// account index outside its account list.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrUnknownProgram is returned when no program is registered for an
	// instruction's program id.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrUnsupportedInvoke is returned for cross-program calls into anything
	// other than the System Program.
	ErrUnsupportedInvoke = errors.New("unsupported cross-program invocation")

	// ErrCallDepth is returned when invocations nest deeper than CPIDepthMax.
	ErrCallDepth = errors.New("cross-program invocation depth exceeded")

	// ErrPrivilegeEscalation is returned when an invoke grants signer or
	// writable status the caller does not hold.
	ErrPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")

	// ErrReadonlyModified is returned when a readonly account changed.
	ErrReadonlyModified = errors.New("instruction modified a readonly account")

	// ErrExternalDebit is returned when a program debits an account it
	// does not own.
	ErrExternalDebit = errors.New("instruction spent from the balance of an account it does not own")

	// ErrExternalDataModified is returned when a program writes the data of
	// an account it does not own.
	ErrExternalDataModified = errors.New("instruction modified data of an account it does not own")

	// ErrOwnerModified is returned for an illegal owner change.
	ErrOwnerModified = errors.New("instruction changed the owner of an account illegally")

	// ErrExecutableModified is returned when an executable account changed.
	ErrExecutableModified = errors.New("instruction changed an executable account")

	// ErrUnbalancedInstruction is returned when lamports were created or
	// destroyed.
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")
)

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta returns an AccountMeta.
func NewAccountMeta(pubkey types.Pubkey, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: writable}
}

// Instruction is a program call before compilation into a message.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo holds account data during execution.
//
// Instances are shared: when the same key appears twice in an instruction
// both positions point at the same AccountInfo.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// Program is a natively compiled program hosted by the runtime.
type Program interface {
	// ProgramID returns the address the program is deployed at.
	ProgramID() types.Pubkey

	// Process executes one instruction. Returning an error aborts the
	// whole transaction.
	Process(ctx InvokeContext, data []byte) error
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the id of the executing program.
	ProgramID() types.Pubkey

	// Accounts returns the instruction's accounts in order.
	Accounts() []*AccountInfo

	// GetAccount returns the account at the given index.
	GetAccount(index int) (*AccountInfo, error)

	// MinimumBalance returns the rent-exempt minimum for dataLen bytes.
	MinimumBalance(dataLen uint64) uint64

	// UnixTimestamp returns the ledger clock.
	UnixTimestamp() int64

	// ConsumeCompute charges the instruction's compute meter.
	ConsumeCompute(units uint64) error

	// Invoke calls the System Program. Each signer grants signer status
	// to the address it derives under the calling program.
	Invoke(ix Instruction, signers ...pda.Signer) error

	// Log records a program log line.
	Log(format string, args ...interface{})

	// LogData records binary fields as one "Program data:" line, each
	// field base64 encoded.
	LogData(fields ...[]byte)
}

// Coder is implemented by errors that carry a numeric program error code.
type Coder interface {
	ErrorCode() uint32
}

// ErrorCode returns the program error code carried by err, or 0.
func ErrorCode(err error) uint32 {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return 0
}
