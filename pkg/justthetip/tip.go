package justthetip

import (
	"fmt"

	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/programs/system"
)

// processCreateTip records a pending tip in a keypair account, creating it
// when it does not exist yet.
//
// Accounts: [tip(s,w), sender(s,w), sender_user, system]
func processCreateTip(ctx svm.InvokeContext, accts *accountIter, ix CreateTip) error {
	tipAcc, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}
	senderUser, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	if err := verifySigner(sender); err != nil {
		return err
	}
	if ix.Amount == 0 {
		return ErrInvalidAmount
	}
	if _, err := loadUser(ctx, senderUser, sender.Key); err != nil {
		return err
	}

	if tipAcc.Lamports == 0 {
		if err := verifySigner(tipAcc); err != nil {
			return err
		}
		create := system.CreateAccount(sender.Key, tipAcc.Key,
			ctx.MinimumBalance(TipRecordSize), TipRecordSize, ctx.ProgramID())
		if err := ctx.Invoke(create); err != nil {
			return err
		}
	} else {
		if err := verifyOwned(ctx, tipAcc); err != nil {
			return err
		}
		if len(tipAcc.Data) != TipRecordSize {
			return fmt.Errorf("%w: tip account holds %d bytes, want %d", ErrInvalidAccountData, len(tipAcc.Data), TipRecordSize)
		}
		if !isBlank(tipAcc.Data) {
			existing, err := DecodeTipRecord(tipAcc.Data)
			if err != nil {
				return err
			}
			if existing.Sender != sender.Key {
				return fmt.Errorf("%w: tip %s belongs to %s", ErrAccountMismatch, tipAcc.Key, existing.Sender)
			}
		}
	}

	rec := TipRecord{
		Sender:    sender.Key,
		Recipient: ix.Recipient,
		Amount:    ix.Amount,
		Timestamp: ctx.UnixTimestamp(),
	}
	b, err := rec.Marshal()
	if err != nil {
		return err
	}
	if len(b) != len(tipAcc.Data) {
		return fmt.Errorf("%w: tip record is %d bytes, account holds %d", ErrInvalidAccountData, len(b), len(tipAcc.Data))
	}
	copy(tipAcc.Data, b)

	ctx.Log("Tip created: %d lamports from %s to %s", ix.Amount, sender.Key, ix.Recipient)
	return nil
}

// loadTip validates the tip account against tipID and the signing sender.
func loadTip(ctx svm.InvokeContext, tipAcc, sender *svm.AccountInfo, tipID [32]byte) (*TipRecord, error) {
	if err := verifySigner(sender); err != nil {
		return nil, err
	}
	if err := verifyAddress(tipAcc, tipID); err != nil {
		return nil, err
	}
	if err := verifyOwned(ctx, tipAcc); err != nil {
		return nil, err
	}
	rec, err := DecodeTipRecord(tipAcc.Data)
	if err != nil {
		return nil, err
	}
	if rec.Sender != sender.Key {
		return nil, fmt.Errorf("%w: tip %s was sent by %s", ErrAccountMismatch, tipAcc.Key, rec.Sender)
	}
	return rec, nil
}

// processExecuteTip pays a pending tip, optionally updates both registry
// records and closes the tip account into the sender.
//
// Accounts: [tip(w), sender(s,w), recipient(w), system, sender_user(w)?, recipient_user(w)?]
func processExecuteTip(ctx svm.InvokeContext, accts *accountIter, ix ExecuteTip) error {
	tipAcc, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}
	recipient, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	rec, err := loadTip(ctx, tipAcc, sender, ix.TipID)
	if err != nil {
		return err
	}
	if rec.Recipient != recipient.Key {
		return fmt.Errorf("%w: tip %s is for %s", ErrAccountMismatch, tipAcc.Key, rec.Recipient)
	}

	var senderUser, recipientUser *svm.AccountInfo
	var senderRec, recipientRec *UserAccount
	switch len(accts.rest()) {
	case 0:
	case 1:
		return fmt.Errorf("%w: registry accounts come in pairs", ErrNotEnoughAccountKeys)
	default:
		if senderUser, err = accts.next(); err != nil {
			return err
		}
		if recipientUser, err = accts.next(); err != nil {
			return err
		}
		if senderRec, err = loadUser(ctx, senderUser, sender.Key); err != nil {
			return err
		}
		switch {
		case recipientUser.Key != senderUser.Key:
			if recipientRec, err = loadUser(ctx, recipientUser, recipient.Key); err != nil {
				return err
			}
		case recipient.Key != sender.Key:
			return fmt.Errorf("%w: registry %s does not belong to recipient %s", ErrAccountMismatch, recipientUser.Key, recipient.Key)
		default:
			recipientRec = senderRec
		}
		if err := creditRegistry(senderRec, recipientRec, rec.Amount); err != nil {
			return err
		}
	}

	if err := ctx.Invoke(system.Transfer(sender.Key, recipient.Key, rec.Amount)); err != nil {
		return err
	}

	if senderRec != nil {
		if err := senderRec.MarshalTo(senderUser.Data); err != nil {
			return err
		}
		if recipientUser.Key != senderUser.Key {
			if err := recipientRec.MarshalTo(recipientUser.Data); err != nil {
				return err
			}
		}
	}

	if err := closeAccount(tipAcc, sender); err != nil {
		return err
	}
	ctx.Log("Tip executed: %d lamports transferred to %s", rec.Amount, rec.Recipient)
	return emitEvent(ctx, TipEvent{
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Amount:    rec.Amount,
		Timestamp: ctx.UnixTimestamp(),
	})
}

// processCancelTip closes a pending tip into its sender without paying it.
//
// Accounts: [tip(w), sender(s,w)]
func processCancelTip(ctx svm.InvokeContext, accts *accountIter, ix CancelTip) error {
	tipAcc, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}

	rec, err := loadTip(ctx, tipAcc, sender, ix.TipID)
	if err != nil {
		return err
	}
	if err := closeAccount(tipAcc, sender); err != nil {
		return err
	}
	ctx.Log("Tip cancelled: %d lamports returned to %s", rec.Amount, sender.Key)
	return nil
}
