// Package runtime executes signed transactions against an accounts store.
//
// ProcessTransaction runs the whole pipeline for one transaction:
//
//  1. sanitize the message and verify every signature
//  2. load the referenced accounts as working copies
//  3. run each instruction in order under a fresh compute meter, checking
//     the account-change rules after every program frame
//  4. write every modified writable account in one atomic DB.Update
//  5. append a receipt to the journal and update metrics
//
// Any failure in step 3 discards every change the transaction made. Calls
// are serialized, so two transactions never observe each other's partial
// state.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/accounts"
	"github.com/fortiblox/justthetip/pkg/journal"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/programs/system"
)

var (
	// ErrAlreadyProcessed is returned for a signature already in the journal.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrProgramRegistered is returned when registering a program id twice.
	ErrProgramRegistered = errors.New("program already registered")

	// ErrBalanceOverflow is returned when funding would overflow a balance.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// accountStorageOverhead is the per-account byte charge added to the data
// length when computing rent.
const accountStorageOverhead = 128

// Rent parameters.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

// DefaultRent returns the standard rent parameters.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2}
}

// MinimumBalance returns the rent-exempt minimum for dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (accountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionThreshold
}

// Journal receives one receipt per processed transaction.
type Journal interface {
	Append(r *journal.Receipt) error
	Has(sig types.Signature) (bool, error)
}

// Config holds runtime configuration.
type Config struct {
	// Rent parameters; zero means DefaultRent.
	Rent Rent

	// ComputeBudget is the per-instruction compute limit; zero means svm.CUDefault.
	ComputeBudget uint64

	// Clock supplies the ledger time; nil means time.Now.
	Clock func() time.Time

	// Logger receives transaction logs; nil means the logrus standard logger.
	Logger *logrus.Entry

	// Metrics is optional.
	Metrics *Metrics

	// Journal is optional. When set, duplicate signatures are rejected.
	Journal Journal
}

// ExecutionResult contains the result of transaction execution.
//
// A failed transaction is reported here with Success false; the error
// returned alongside it from ProcessTransaction is reserved for failures of
// the runtime itself.
type ExecutionResult struct {
	Signature types.Signature
	Slot      uint64
	Success   bool

	// Err is the failure cause; use errors.Is against program sentinels.
	Err       error
	Error     string
	ErrorCode uint32

	// InstructionIndex is the failing instruction, or -1.
	InstructionIndex int

	Logs             []string
	ComputeUnitsUsed uint64
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
}

// Runtime hosts programs and executes transactions.
type Runtime struct {
	mu       sync.Mutex
	db       accounts.DB
	programs map[types.Pubkey]svm.Program
	cfg      Config
	log      *logrus.Entry
}

// New creates a runtime over db with the System Program registered.
func New(db accounts.DB, cfg Config) *Runtime {
	if cfg.Rent == (Rent{}) {
		cfg.Rent = DefaultRent()
	}
	if cfg.ComputeBudget == 0 {
		cfg.ComputeBudget = svm.CUDefault
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	sys := system.NewProcessor()
	return &Runtime{
		db:       db,
		programs: map[types.Pubkey]svm.Program{sys.ProgramID(): sys},
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "runtime"),
	}
}

// Register adds a program.
func (r *Runtime) Register(p svm.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ProgramID()
	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrProgramRegistered, id)
	}
	r.programs[id] = p
	r.log.WithField("program", id.String()).Info("program registered")
	return nil
}

// DB returns the underlying accounts store.
func (r *Runtime) DB() accounts.DB {
	return r.db
}

// MinimumBalance returns the rent-exempt minimum for dataLen bytes.
func (r *Runtime) MinimumBalance(dataLen uint64) uint64 {
	return r.cfg.Rent.MinimumBalance(dataLen)
}

// Fund credits lamports to a wallet outside any transaction. Absent
// accounts are created owned by the System Program. It is meant for
// genesis balances.
func (r *Runtime) Fund(key types.Pubkey, lamports uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, err := r.db.GetAccount(key)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		acc = &accounts.Account{Owner: system.ProgramID}
	case err != nil:
		return err
	}
	if acc.Lamports > ^uint64(0)-lamports {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, key)
	}
	acc.Lamports += lamports
	return r.db.SetAccount(key, acc)
}

// execution is the state of one transaction in flight.
type execution struct {
	rt       *Runtime
	msg      *Message
	accounts []*svm.AccountInfo
	original []*accounts.Account
	now      time.Time
	logs     []string
	log      *logrus.Entry
}

func (e *execution) frameLog(program types.Pubkey, format string, args ...interface{}) {
	e.logs = append(e.logs, fmt.Sprintf("Program %s ", program)+fmt.Sprintf(format, args...))
}

func (e *execution) programLog(program types.Pubkey, line string) {
	e.logs = append(e.logs, line)
	e.log.WithField("program", program.String()).Debug(line)
}

// ProcessTransaction executes tx and commits its effects on success.
func (r *Runtime) ProcessTransaction(ctx context.Context, tx *Transaction) (*ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot := r.db.GetSlot() + 1
	sig := tx.Signature()
	log := r.log.WithFields(logrus.Fields{
		"signature": sig.String(),
		"slot":      slot,
	})
	result := &ExecutionResult{
		Signature:        sig,
		Slot:             slot,
		InstructionIndex: -1,
	}

	// Rejected transactions never reach the ledger: no slot, no receipt.
	if err := tx.VerifySignatures(); err != nil {
		return r.reject(result, log, err), nil
	}
	if r.cfg.Journal != nil {
		seen, err := r.cfg.Journal.Has(sig)
		if err != nil {
			return nil, fmt.Errorf("check journal: %w", err)
		}
		if seen {
			return r.reject(result, log, ErrAlreadyProcessed), nil
		}
	}

	exec, err := r.load(tx, log)
	if err != nil {
		return nil, err
	}

	var computeUsed uint64
	for i, ci := range tx.Message.Instructions {
		used, err := r.executeInstruction(exec, ci)
		computeUsed += used
		if err != nil {
			result.Logs = exec.logs
			result.ComputeUnitsUsed = computeUsed
			r.fail(result, i, fmt.Errorf("instruction %d: %w", i, err))
			return r.finish(result, log, 0)
		}
	}
	result.Logs = exec.logs
	result.ComputeUnitsUsed = computeUsed

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, moved := exec.modified()
	if err := r.db.Update(entries); err != nil {
		return nil, fmt.Errorf("commit accounts: %w", err)
	}
	for _, e := range entries {
		result.ModifiedAccounts = append(result.ModifiedAccounts, e.Pubkey)
	}
	result.DeltaHash = accounts.ComputeDeltaHash(entries)
	result.Success = true
	return r.finish(result, log, moved)
}

func (r *Runtime) reject(result *ExecutionResult, log *logrus.Entry, err error) *ExecutionResult {
	r.fail(result, -1, err)
	r.cfg.Metrics.RecordTransaction(false, 0, 0)
	log.WithError(err).Warn("transaction rejected")
	return result
}

func (r *Runtime) fail(result *ExecutionResult, index int, err error) {
	result.Success = false
	result.Err = err
	result.Error = err.Error()
	result.ErrorCode = svm.ErrorCode(err)
	result.InstructionIndex = index
}

// finish advances the slot, journals the receipt and records metrics.
func (r *Runtime) finish(result *ExecutionResult, log *logrus.Entry, moved uint64) (*ExecutionResult, error) {
	if err := r.db.SetSlot(result.Slot); err != nil {
		return nil, fmt.Errorf("set slot: %w", err)
	}
	if err := r.db.Commit(); err != nil {
		return nil, fmt.Errorf("commit metadata: %w", err)
	}

	if r.cfg.Journal != nil {
		receipt := &journal.Receipt{
			Signature:        result.Signature,
			Slot:             result.Slot,
			Success:          result.Success,
			ErrorCode:        result.ErrorCode,
			Error:            result.Error,
			InstructionIndex: result.InstructionIndex,
			Logs:             result.Logs,
			ComputeUnits:     result.ComputeUnitsUsed,
			ModifiedAccounts: result.ModifiedAccounts,
			DeltaHash:        result.DeltaHash,
			ProcessedAt:      r.cfg.Clock().UTC(),
		}
		if err := r.cfg.Journal.Append(receipt); err != nil {
			return nil, fmt.Errorf("append receipt: %w", err)
		}
	}

	r.cfg.Metrics.RecordTransaction(result.Success, result.ComputeUnitsUsed, moved)

	log = log.WithField("compute_units", result.ComputeUnitsUsed)
	if result.Success {
		log.WithField("modified", len(result.ModifiedAccounts)).Debug("transaction processed")
	} else {
		log.WithFields(logrus.Fields{
			"error_code":  result.ErrorCode,
			"instruction": result.InstructionIndex,
		}).WithError(result.Err).Warn("transaction failed")
	}
	return result, nil
}

// load builds working copies of every account the message references.
func (r *Runtime) load(tx *Transaction, log *logrus.Entry) (*execution, error) {
	msg := &tx.Message
	exec := &execution{
		rt:       r,
		msg:      msg,
		accounts: make([]*svm.AccountInfo, len(msg.AccountKeys)),
		original: make([]*accounts.Account, len(msg.AccountKeys)),
		now:      r.cfg.Clock(),
		log:      log,
	}

	for i, key := range msg.AccountKeys {
		acc, err := r.db.GetAccount(key)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			acc = &accounts.Account{Owner: system.ProgramID}
		case err != nil:
			return nil, fmt.Errorf("load account %s: %w", key, err)
		}
		exec.original[i] = acc
		exec.accounts[i] = &svm.AccountInfo{
			Key:        key,
			Owner:      acc.Owner,
			Lamports:   acc.Lamports,
			Data:       append([]byte(nil), acc.Data...),
			Executable: acc.Executable,
			IsSigner:   msg.IsSigner(i),
			IsWritable: msg.IsWritable(i),
		}
	}
	return exec, nil
}

// executeInstruction runs one top-level instruction and returns the compute
// it used.
func (r *Runtime) executeInstruction(exec *execution, ci CompiledInstruction) (uint64, error) {
	programID := exec.msg.AccountKeys[ci.ProgramIDIndex]
	program, ok := r.programs[programID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", svm.ErrUnknownProgram, programID)
	}

	accts := make([]*svm.AccountInfo, len(ci.AccountIndexes))
	for i, idx := range ci.AccountIndexes {
		accts[i] = exec.accounts[idx]
	}

	meter := svm.NewComputeMeter(r.cfg.ComputeBudget)
	ic := newInvokeContext(exec, programID, accts, meter, 1)

	exec.frameLog(programID, "invoke [1]")
	err := program.Process(ic, ci.Data)
	if err == nil {
		err = ic.finish(nil)
	}
	exec.frameLog(programID, "consumed %d of %d compute units", meter.Consumed(), meter.Limit())
	if err != nil {
		exec.frameLog(programID, "failed: %v", err)
	} else {
		exec.frameLog(programID, "success")
	}
	r.cfg.Metrics.RecordInstruction(programID.String(), err == nil)
	return meter.Consumed(), err
}

// modified returns the writable accounts whose state changed, with
// zero-balance accounts replaced by deletions, and the total lamports
// credited.
func (e *execution) modified() ([]accounts.AccountEntry, uint64) {
	var entries []accounts.AccountEntry
	var moved uint64
	for i, acc := range e.accounts {
		if !e.msg.IsWritable(i) {
			continue
		}
		orig := e.original[i]
		if orig.Lamports == acc.Lamports && orig.Owner == acc.Owner &&
			orig.Executable == acc.Executable && bytes.Equal(orig.Data, acc.Data) {
			continue
		}
		if acc.Lamports > orig.Lamports {
			moved += acc.Lamports - orig.Lamports
		}

		next := &accounts.Account{
			Lamports:   acc.Lamports,
			Data:       acc.Data,
			Owner:      acc.Owner,
			Executable: acc.Executable,
		}
		if next.Lamports == 0 {
			next = &accounts.Account{}
		}
		entries = append(entries, accounts.AccountEntry{Pubkey: acc.Key, Account: next})
	}
	return entries, moved
}
