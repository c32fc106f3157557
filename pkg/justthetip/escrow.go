package justthetip

import (
	"fmt"
	"math/bits"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/pda"
	"github.com/fortiblox/justthetip/pkg/svm/programs/system"
)

// AirdropFee returns floor(total * pct / 100) for 0 < pct <= 100 and 0
// otherwise. The product is taken in 128 bits.
func AirdropFee(total uint64, pct uint8) uint64 {
	if pct == 0 || pct > 100 {
		return 0
	}
	hi, lo := bits.Mul64(total, uint64(pct))
	// hi < pct <= 100, so the quotient fits in 64 bits.
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

// pool is a verified, open escrow account.
type pool struct {
	acc    *svm.AccountInfo
	addr   pda.Address
	record *EscrowPool
}

// openPool verifies the pool address and decodes its record.
func openPool(ctx svm.InvokeContext, acc *svm.AccountInfo, airdropID [32]byte) (*pool, error) {
	addr, err := deriveEscrow(ctx, acc, airdropID)
	if err != nil {
		return nil, err
	}
	if err := verifyOwned(ctx, acc); err != nil {
		return nil, err
	}
	rec, err := DecodeEscrowPool(acc.Data)
	if err != nil {
		return nil, err
	}
	return &pool{acc: acc, addr: addr, record: rec}, nil
}

// openCreatorPool is openPool for instructions only the creator may send.
func openCreatorPool(ctx svm.InvokeContext, acc, sender *svm.AccountInfo, airdropID [32]byte) (*pool, error) {
	p, err := openPool(ctx, acc, airdropID)
	if err != nil {
		return nil, err
	}
	if p.record.Creator != sender.Key {
		return nil, fmt.Errorf("%w: pool %s was created by %s", ErrAccountMismatch, acc.Key, p.record.Creator)
	}
	return p, nil
}

// pay transfers lamports out of the pool under its derived-address signature.
func (p *pool) pay(ctx svm.InvokeContext, to types.Pubkey, lamports uint64) error {
	return ctx.Invoke(system.Transfer(p.acc.Key, to, lamports), p.addr.Signer())
}

func (p *pool) store() error {
	b, err := p.record.Marshal()
	if err != nil {
		return err
	}
	if len(b) != len(p.acc.Data) {
		return fmt.Errorf("%w: pool record is %d bytes, account holds %d", ErrInvalidAccountData, len(b), len(p.acc.Data))
	}
	copy(p.acc.Data, b)
	return nil
}

// processCollectFunds funds the pool for an airdrop, creating it on first
// use. Repeated calls by the creator add to the pool.
//
// Accounts: [escrow(w), sender(s,w), system]
func processCollectFunds(ctx svm.InvokeContext, accts *accountIter, ix CollectFunds) error {
	escrow, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	if err := verifySigner(sender); err != nil {
		return err
	}
	if ix.TotalAmount == 0 {
		return ErrInvalidAmount
	}

	var p *pool
	if escrow.Owner != ctx.ProgramID() || escrow.Lamports == 0 {
		addr, err := deriveEscrow(ctx, escrow, ix.AirdropID)
		if err != nil {
			return err
		}
		if err := createDerived(ctx, escrow, sender, addr, EscrowPoolSize); err != nil {
			return err
		}
		p = &pool{acc: escrow, addr: addr, record: &EscrowPool{Creator: sender.Key}}
	} else if p, err = openCreatorPool(ctx, escrow, sender, ix.AirdropID); err != nil {
		return err
	}

	remaining, err := checkedAdd(p.record.Remaining, ix.TotalAmount)
	if err != nil {
		return fmt.Errorf("%w: pool %s", err, escrow.Key)
	}
	if err := ctx.Invoke(system.Transfer(sender.Key, escrow.Key, ix.TotalAmount)); err != nil {
		return err
	}
	p.record.Remaining = remaining
	if err := p.store(); err != nil {
		return err
	}

	ctx.Log("Funds collected: %d lamports into %s, %d remaining", ix.TotalAmount, escrow.Key, remaining)
	return nil
}

// processDistributeAirdrop pays the fee and every recipient from the pool,
// returns the undistributed remainder to the creator and closes the pool.
//
// Accounts: [escrow(w), sender(s,w), fee_wallet(w), system, recipient_1(w) ... recipient_n(w)]
func processDistributeAirdrop(ctx svm.InvokeContext, accts *accountIter, ix DistributeAirdrop) error {
	escrow, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}
	feeWallet, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	if err := verifySigner(sender); err != nil {
		return err
	}
	if err := verifyAddress(feeWallet, ix.FeeWallet); err != nil {
		return fmt.Errorf("fee wallet: %w", err)
	}
	if len(ix.Recipients) > MaxRecipients {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRecipients, len(ix.Recipients), MaxRecipients)
	}
	p, err := openCreatorPool(ctx, escrow, sender, ix.AirdropID)
	if err != nil {
		return err
	}

	recipientAccts := accts.rest()
	if len(recipientAccts) < len(ix.Recipients) {
		return fmt.Errorf("%w: %d recipients, %d recipient accounts", ErrNotEnoughAccountKeys, len(ix.Recipients), len(recipientAccts))
	}
	var sum uint64
	for i, r := range ix.Recipients {
		if err := verifyAddress(recipientAccts[i], r.Recipient); err != nil {
			return fmt.Errorf("recipient %d: %w", i, err)
		}
		if sum, err = checkedAdd(sum, r.Amount); err != nil {
			return fmt.Errorf("%w: recipient total", err)
		}
	}

	total := p.record.Remaining
	fee := AirdropFee(total, ix.FeePercentage)
	distributable := total - fee
	if sum > distributable {
		return fmt.Errorf("%w: recipients need %d, pool can distribute %d", ErrInsufficientFunds, sum, distributable)
	}

	if fee > 0 {
		if err := p.pay(ctx, feeWallet.Key, fee); err != nil {
			return err
		}
		ctx.Log("Platform fee collected: %d lamports to %s", fee, feeWallet.Key)
	}
	for _, r := range ix.Recipients {
		if err := p.pay(ctx, r.Recipient, r.Amount); err != nil {
			return err
		}
		ctx.Log("Airdrop distributed: %d lamports to %s", r.Amount, r.Recipient)
	}
	if remainder := distributable - sum; remainder > 0 {
		if err := p.pay(ctx, sender.Key, remainder); err != nil {
			return err
		}
		ctx.Log("Remaining funds refunded: %d lamports to %s", remainder, sender.Key)
	}

	if err := closeAccount(escrow, sender); err != nil {
		return err
	}
	ctx.Log("Airdrop %x distributed to %d recipients", ix.AirdropID, len(ix.Recipients))
	return nil
}

// processRefundEscrow returns the pool to its creator and closes it.
//
// Accounts: [escrow(w), sender(s,w), system]
func processRefundEscrow(ctx svm.InvokeContext, accts *accountIter, ix RefundEscrow) error {
	escrow, err := accts.next()
	if err != nil {
		return err
	}
	sender, err := accts.next()
	if err != nil {
		return err
	}
	if _, err := accts.next(); err != nil {
		return err
	}

	if err := verifySigner(sender); err != nil {
		return err
	}
	p, err := openCreatorPool(ctx, escrow, sender, ix.AirdropID)
	if err != nil {
		return err
	}

	refund := p.record.Remaining
	if refund > 0 {
		if err := p.pay(ctx, sender.Key, refund); err != nil {
			return err
		}
	}
	if err := closeAccount(escrow, sender); err != nil {
		return err
	}
	ctx.Log("Escrow refunded: %d lamports returned to %s", refund, sender.Key)
	return nil
}

// processClaimAirdrop withdraws a single claim from an open pool.
//
// Accounts: [escrow(w), recipient(s,w), system]
func processClaimAirdrop(ctx svm.InvokeContext, accts *accountIter, ix ClaimAirdrop) error {
	escrow, err := accts.next()
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

	if err := verifySigner(recipient); err != nil {
		return err
	}
	if err := verifyAddress(recipient, ix.Recipient); err != nil {
		return err
	}
	if ix.Amount == 0 {
		return ErrInvalidAmount
	}
	p, err := openPool(ctx, escrow, ix.AirdropID)
	if err != nil {
		return err
	}
	if ix.Amount > p.record.Remaining {
		return fmt.Errorf("%w: claim of %d, pool has %d remaining", ErrInsufficientFunds, ix.Amount, p.record.Remaining)
	}

	if err := p.pay(ctx, recipient.Key, ix.Amount); err != nil {
		return err
	}
	p.record.Remaining -= ix.Amount
	if err := p.store(); err != nil {
		return err
	}

	ctx.Log("Airdrop claimed: %d lamports to %s, %d remaining", ix.Amount, recipient.Key, p.record.Remaining)
	return emitEvent(ctx, AirdropClaimEvent{
		Airdrop:   escrow.Key,
		Claimer:   recipient.Key,
		Amount:    ix.Amount,
		Timestamp: ctx.UnixTimestamp(),
	})
}
