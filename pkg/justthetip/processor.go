// Package justthetip implements the tip and airdrop escrow program.
//
// The program keeps three kinds of accounts:
//   - user registry records at ("user", user_id)
//   - pending tips at caller-chosen keypair addresses
//   - airdrop pools at ("escrow", airdrop_id)
//
// Every handler validates its positional accounts before touching them and
// moves lamports out of program-owned pools only through System Program
// transfers signed with the pool's derived-address capability.
package justthetip

import (
	"fmt"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

// Processor executes program instructions.
type Processor struct {
	programID types.Pubkey
}

// NewProcessor creates a processor deployed at programID.
func NewProcessor(programID types.Pubkey) *Processor {
	return &Processor{programID: programID}
}

// ProgramID implements svm.Program.
func (p *Processor) ProgramID() types.Pubkey {
	return p.programID
}

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	ctx.Log("Instruction: %s", ix.Tag())

	accts := newAccountIter(ctx.Accounts())
	switch ix := ix.(type) {
	case InitializeUser:
		return processInitializeUser(ctx, accts, ix)
	case CreateTip:
		return processCreateTip(ctx, accts, ix)
	case ExecuteTip:
		return processExecuteTip(ctx, accts, ix)
	case CancelTip:
		return processCancelTip(ctx, accts, ix)
	case CollectFunds:
		return processCollectFunds(ctx, accts, ix)
	case DistributeAirdrop:
		return processDistributeAirdrop(ctx, accts, ix)
	case RefundEscrow:
		return processRefundEscrow(ctx, accts, ix)
	case ClaimAirdrop:
		return processClaimAirdrop(ctx, accts, ix)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidInstruction, ix)
	}
}
