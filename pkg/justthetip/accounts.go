package justthetip

import (
	"fmt"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/pda"
	"github.com/fortiblox/justthetip/pkg/svm/programs/system"
)

// UserAddress derives the registry address for userID.
func UserAddress(programID types.Pubkey, userID string) (pda.Address, error) {
	return pda.FindProgramAddress(programID, userSeed, []byte(userID))
}

// EscrowAddress derives the pool address for airdropID.
func EscrowAddress(programID types.Pubkey, airdropID [32]byte) (pda.Address, error) {
	return pda.FindProgramAddress(programID, escrowSeed, airdropID[:])
}

// accountIter hands out instruction accounts in positional order.
type accountIter struct {
	accounts []*svm.AccountInfo
	pos      int
}

func newAccountIter(accts []*svm.AccountInfo) *accountIter {
	return &accountIter{accounts: accts}
}

func (it *accountIter) next() (*svm.AccountInfo, error) {
	if it.pos >= len(it.accounts) {
		return nil, fmt.Errorf("%w: need account %d, have %d", ErrNotEnoughAccountKeys, it.pos, len(it.accounts))
	}
	acc := it.accounts[it.pos]
	it.pos++
	return acc, nil
}

// rest returns the accounts not yet handed out.
func (it *accountIter) rest() []*svm.AccountInfo {
	return it.accounts[it.pos:]
}

func verifySigner(acc *svm.AccountInfo) error {
	if !acc.IsSigner {
		return fmt.Errorf("%w: %s", ErrMissingRequiredSignature, acc.Key)
	}
	return nil
}

func verifyAddress(acc *svm.AccountInfo, expected types.Pubkey) error {
	if acc.Key != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrAccountMismatch, acc.Key, expected)
	}
	return nil
}

// verifyOwned fails for accounts this program has not initialized, which
// includes accounts that were closed and purged.
func verifyOwned(ctx svm.InvokeContext, acc *svm.AccountInfo) error {
	if acc.Owner != ctx.ProgramID() || acc.Lamports == 0 {
		return fmt.Errorf("%w: %s", ErrUninitializedAccount, acc.Key)
	}
	return nil
}

// deriveUser derives and verifies the registry address for userID.
func deriveUser(ctx svm.InvokeContext, acc *svm.AccountInfo, userID string) (pda.Address, error) {
	addr, err := pda.FindProgramAddressMetered(ctx, ctx.ProgramID(), userSeed, []byte(userID))
	if err != nil {
		return pda.Address{}, err
	}
	return addr, verifyAddress(acc, addr.Key)
}

// deriveEscrow derives and verifies the pool address for airdropID.
func deriveEscrow(ctx svm.InvokeContext, acc *svm.AccountInfo, airdropID [32]byte) (pda.Address, error) {
	addr, err := pda.FindProgramAddressMetered(ctx, ctx.ProgramID(), escrowSeed, airdropID[:])
	if err != nil {
		return pda.Address{}, err
	}
	return addr, verifyAddress(acc, addr.Key)
}

// createDerived makes acc a program-owned account of space bytes at the
// derived address addr, funded by payer. An address that already holds
// lamports from a plain transfer, but no data, is topped up to the rent
// minimum and taken over.
func createDerived(ctx svm.InvokeContext, acc, payer *svm.AccountInfo, addr pda.Address, space uint64) error {
	rent := ctx.MinimumBalance(space)
	if acc.Lamports == 0 {
		create := system.CreateAccount(payer.Key, acc.Key, rent, space, ctx.ProgramID())
		return ctx.Invoke(create, addr.Signer())
	}
	if acc.Owner != system.ProgramID || len(acc.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrUninitializedAccount, acc.Key)
	}

	if acc.Lamports < rent {
		if err := ctx.Invoke(system.Transfer(payer.Key, acc.Key, rent-acc.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(acc.Key, space), addr.Signer()); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(acc.Key, ctx.ProgramID()), addr.Signer())
}

// loadUser reads a registry account and checks that it sits at the address
// its stored id and bump derive to and that authority owns it.
func loadUser(ctx svm.InvokeContext, acc *svm.AccountInfo, authority types.Pubkey) (*UserAccount, error) {
	if err := verifyOwned(ctx, acc); err != nil {
		return nil, err
	}
	user, err := DecodeUserAccount(acc.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.ConsumeCompute(pda.CUCreateProgramAddress); err != nil {
		return nil, err
	}
	key, err := pda.CreateProgramAddress(ctx.ProgramID(), userSeed, []byte(user.UserID), []byte{user.Bump})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if err := verifyAddress(acc, key); err != nil {
		return nil, err
	}
	if user.Authority != authority {
		return nil, fmt.Errorf("%w: %s is not the authority of %q", ErrAccountMismatch, authority, user.UserID)
	}
	return user, nil
}

// closeAccount moves the whole balance of a program-owned account to dest,
// wipes its data and hands it back to the System Program.
func closeAccount(acc, dest *svm.AccountInfo) error {
	if acc == dest {
		return fmt.Errorf("%w: cannot close %s into itself", ErrAccountMismatch, acc.Key)
	}
	if dest.Lamports > ^uint64(0)-acc.Lamports {
		return fmt.Errorf("%w: crediting %s", ErrArithmeticOverflow, dest.Key)
	}
	dest.Lamports += acc.Lamports
	acc.Lamports = 0
	acc.Data = nil
	acc.Owner = types.SystemProgramAddr
	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}
