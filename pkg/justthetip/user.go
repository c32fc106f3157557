package justthetip

import (
	"fmt"

	"github.com/fortiblox/justthetip/pkg/svm"
)

// processInitializeUser creates the registry record for a user id.
//
// Accounts: [user(w), authority(s,w), system]
func processInitializeUser(ctx svm.InvokeContext, accts *accountIter, ix InitializeUser) error {
	userAcc, err := accts.next()
	if err != nil {
		return err
	}
	authority, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	if err := verifySigner(authority); err != nil {
		return err
	}
	if n := len(ix.UserID); n == 0 || n > MaxUserIDLen {
		return fmt.Errorf("%w: user id must be 1 to %d bytes, got %d", ErrInvalidInstruction, MaxUserIDLen, n)
	}
	addr, err := deriveUser(ctx, userAcc, ix.UserID)
	if err != nil {
		return err
	}

	if userAcc.Owner == ctx.ProgramID() && userAcc.Lamports > 0 {
		existing, err := DecodeUserAccount(userAcc.Data)
		if err != nil {
			return err
		}
		if existing.UserID != ix.UserID {
			return fmt.Errorf("%w: account holds user %q", ErrAccountMismatch, existing.UserID)
		}
		ctx.Log("User account already initialized for: %s", ix.UserID)
		return nil
	}

	if err := createDerived(ctx, userAcc, authority, addr, UserAccountSize); err != nil {
		return err
	}

	user := UserAccount{
		Authority: authority.Key,
		UserID:    ix.UserID,
		Bump:      addr.Bump,
	}
	if err := user.MarshalTo(userAcc.Data); err != nil {
		return err
	}

	ctx.Log("User account initialized for: %s", ix.UserID)
	return nil
}

// creditRegistry applies a paid tip to the sender and recipient records. The
// two may be the same record. Nothing is written unless every sum fits.
func creditRegistry(sender, recipient *UserAccount, amount uint64) error {
	sent, err := checkedAdd(sender.TotalSent, amount)
	if err != nil {
		return fmt.Errorf("%w: total sent of %q", err, sender.UserID)
	}
	count, err := checkedAdd(sender.TipCount, 1)
	if err != nil {
		return fmt.Errorf("%w: tip count of %q", err, sender.UserID)
	}
	received, err := checkedAdd(recipient.TotalReceived, amount)
	if err != nil {
		return fmt.Errorf("%w: total received of %q", err, recipient.UserID)
	}

	sender.TotalSent = sent
	sender.TipCount = count
	recipient.TotalReceived = received
	return nil
}
