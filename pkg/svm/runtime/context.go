package runtime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math/bits"
	"strings"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/pda"
	"github.com/fortiblox/justthetip/pkg/svm/programs/system"
)

// accountState is the part of an account the change rules compare.
type accountState struct {
	lamports   uint64
	data       []byte
	owner      types.Pubkey
	executable bool
}

// invokeContext implements svm.InvokeContext for one program frame.
type invokeContext struct {
	exec      *execution
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	meter     *svm.ComputeMeter
	depth     int

	// pre holds each account as it was when this frame last verified.
	pre map[*svm.AccountInfo]accountState

	// meterErr is set when a call that cannot return an error ran out of
	// compute.
	meterErr error
}

func newInvokeContext(exec *execution, programID types.Pubkey, accts []*svm.AccountInfo, meter *svm.ComputeMeter, depth int) *invokeContext {
	c := &invokeContext{
		exec:      exec,
		programID: programID,
		accounts:  accts,
		meter:     meter,
		depth:     depth,
	}
	c.snapshot()
	return c
}

func (c *invokeContext) snapshot() {
	c.pre = make(map[*svm.AccountInfo]accountState, len(c.accounts))
	for _, acc := range c.accounts {
		c.pre[acc] = accountState{
			lamports:   acc.Lamports,
			data:       append([]byte(nil), acc.Data...),
			owner:      acc.Owner,
			executable: acc.Executable,
		}
	}
}

// ProgramID implements svm.InvokeContext.
func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

// Accounts implements svm.InvokeContext.
func (c *invokeContext) Accounts() []*svm.AccountInfo {
	return c.accounts
}

// GetAccount implements svm.InvokeContext.
func (c *invokeContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, fmt.Errorf("%w: index %d of %d", svm.ErrAccountNotFound, index, len(c.accounts))
	}
	return c.accounts[index], nil
}

// MinimumBalance implements svm.InvokeContext.
func (c *invokeContext) MinimumBalance(dataLen uint64) uint64 {
	return c.exec.rt.cfg.Rent.MinimumBalance(dataLen)
}

// UnixTimestamp implements svm.InvokeContext.
func (c *invokeContext) UnixTimestamp() int64 {
	return c.exec.now.Unix()
}

// ConsumeCompute implements svm.InvokeContext.
func (c *invokeContext) ConsumeCompute(units uint64) error {
	return c.meter.Consume(units)
}

// Log implements svm.InvokeContext.
func (c *invokeContext) Log(format string, args ...interface{}) {
	if err := c.meter.Consume(svm.CULogBase); err != nil && c.meterErr == nil {
		c.meterErr = err
	}
	c.exec.programLog(c.programID, "Program log: "+fmt.Sprintf(format, args...))
}

// LogData implements svm.InvokeContext.
func (c *invokeContext) LogData(fields ...[]byte) {
	if err := c.meter.Consume(svm.CULogBase); err != nil && c.meterErr == nil {
		c.meterErr = err
	}
	encoded := make([]string, len(fields))
	for i, f := range fields {
		encoded[i] = base64.StdEncoding.EncodeToString(f)
	}
	c.exec.programLog(c.programID, "Program data: "+strings.Join(encoded, " "))
}

// find returns the frame's account with key.
func (c *invokeContext) find(key types.Pubkey) *svm.AccountInfo {
	for _, acc := range c.accounts {
		if acc.Key == key {
			return acc
		}
	}
	return nil
}

// Invoke implements svm.InvokeContext. Only the System Program can be
// called. Each signer grants signer status to the address it derives under
// this frame's program; such an address, when owned by this program, may be
// debited by the callee.
func (c *invokeContext) Invoke(ix svm.Instruction, signers ...pda.Signer) error {
	if err := c.ConsumeCompute(svm.CUInvokeBase); err != nil {
		return err
	}
	if c.depth+1 > svm.CPIDepthMax {
		return svm.ErrCallDepth
	}
	if ix.ProgramID != system.ProgramID {
		return fmt.Errorf("%w: %s", svm.ErrUnsupportedInvoke, ix.ProgramID)
	}
	callee, ok := c.exec.rt.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, ix.ProgramID)
	}

	// Changes made so far must be legal on their own.
	if err := c.verify(nil); err != nil {
		return err
	}

	signed := make(map[types.Pubkey]bool, len(signers))
	for _, s := range signers {
		addr, err := s.Address(c.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", svm.ErrPrivilegeEscalation, err)
		}
		signed[addr] = true
	}

	views := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))
	callers := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))
	calleeAccounts := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		caller := c.find(meta.Pubkey)
		if caller == nil {
			return fmt.Errorf("%w: %s not passed to %s", svm.ErrAccountNotFound, meta.Pubkey, c.programID)
		}
		if meta.IsWritable && !caller.IsWritable {
			return fmt.Errorf("%w: %s is not writable", svm.ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner && !caller.IsSigner && !signed[meta.Pubkey] {
			return fmt.Errorf("%w: %s did not sign", svm.ErrPrivilegeEscalation, meta.Pubkey)
		}

		v, ok := views[meta.Pubkey]
		if !ok {
			v = &svm.AccountInfo{
				Key:        caller.Key,
				Owner:      caller.Owner,
				Lamports:   caller.Lamports,
				Data:       append([]byte(nil), caller.Data...),
				Executable: caller.Executable,
			}
			views[meta.Pubkey] = v
			callers[meta.Pubkey] = caller
		}
		v.IsSigner = v.IsSigner || meta.IsSigner
		v.IsWritable = v.IsWritable || meta.IsWritable
		calleeAccounts[i] = v
	}

	delegated := make(map[types.Pubkey]bool, len(signed))
	for key := range signed {
		if caller, ok := callers[key]; ok && caller.Owner == c.programID {
			delegated[key] = true
		}
	}

	sub := newInvokeContext(c.exec, ix.ProgramID, calleeAccounts, c.meter, c.depth+1)
	c.exec.frameLog(ix.ProgramID, "invoke [%d]", sub.depth)
	err := callee.Process(sub, ix.Data)
	if err == nil {
		err = sub.finish(delegated)
	}
	if err != nil {
		c.exec.frameLog(ix.ProgramID, "failed: %v", err)
		return err
	}
	c.exec.frameLog(ix.ProgramID, "success")

	for key, v := range views {
		caller := callers[key]
		caller.Lamports = v.Lamports
		caller.Data = v.Data
		caller.Owner = v.Owner
	}
	c.snapshot()
	return nil
}

// finish reports deferred compute exhaustion and verifies the frame.
func (c *invokeContext) finish(delegated map[types.Pubkey]bool) error {
	if c.meterErr != nil {
		return c.meterErr
	}
	return c.verify(delegated)
}

// verify checks every change since the last snapshot:
//   - readonly and executable accounts are untouched
//   - only the owner changes data, and owner changes leave data zeroed
//   - only the owner, or the callee of a delegated debit, lowers a balance
//   - the lamport total is unchanged
func (c *invokeContext) verify(delegated map[types.Pubkey]bool) error {
	var preHi, preLo, postHi, postLo, carry uint64

	seen := make(map[*svm.AccountInfo]bool, len(c.accounts))
	for _, acc := range c.accounts {
		if seen[acc] {
			continue
		}
		seen[acc] = true
		pre := c.pre[acc]

		preLo, carry = bits.Add64(preLo, pre.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, acc.Lamports, 0)
		postHi += carry

		dataChanged := !bytes.Equal(pre.data, acc.Data)
		ownerChanged := pre.owner != acc.Owner
		execChanged := pre.executable != acc.Executable
		if !dataChanged && !ownerChanged && !execChanged && pre.lamports == acc.Lamports {
			continue
		}

		switch {
		case !acc.IsWritable:
			return fmt.Errorf("%w: %s", svm.ErrReadonlyModified, acc.Key)
		case pre.executable || execChanged:
			return fmt.Errorf("%w: %s", svm.ErrExecutableModified, acc.Key)
		case ownerChanged && (pre.owner != c.programID || !isZeroed(acc.Data)):
			return fmt.Errorf("%w: %s", svm.ErrOwnerModified, acc.Key)
		case acc.Lamports < pre.lamports && pre.owner != c.programID && !delegated[acc.Key]:
			return fmt.Errorf("%w: %s", svm.ErrExternalDebit, acc.Key)
		case dataChanged && pre.owner != c.programID:
			return fmt.Errorf("%w: %s", svm.ErrExternalDataModified, acc.Key)
		}
	}

	if preHi != postHi || preLo != postLo {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
