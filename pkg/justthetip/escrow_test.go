package justthetip

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm/runtime"
)

type escrowFixture struct {
	*ledger
	creator     ed25519.PrivateKey
	creatorKey  types.Pubkey
	id          [32]byte
	escrowKey   types.Pubkey
	poolDeposit uint64
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	l := newLedger(t)
	f := &escrowFixture{ledger: l, id: dropID("airdrop-x")}
	f.creator, f.creatorKey = l.wallet("creator", 10*sol)
	addr, err := EscrowAddress(programID, f.id)
	require.NoError(t, err)
	f.escrowKey = addr.Key
	f.poolDeposit = l.rt.MinimumBalance(EscrowPoolSize)
	return f
}

func (f *escrowFixture) collect(amount uint64) {
	f.t.Helper()
	ix, err := NewCollectFundsInstruction(programID, f.creatorKey, f.id, amount)
	f.mustSend(ix, err, f.creator)
}

func (f *escrowFixture) claim(priv ed25519.PrivateKey, amount uint64) *runtime.ExecutionResult {
	f.t.Helper()
	key := types.PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey))
	ix, err := NewClaimAirdropInstruction(programID, key, f.id, amount)
	require.NoError(f.t, err)
	return f.send(ix, priv)
}

func TestCollectFunds(t *testing.T) {
	f := newEscrowFixture(t)
	f.collect(1000)

	acc := f.account(f.escrowKey)
	require.NotNil(t, acc)
	assert.Equal(t, programID, acc.Owner)
	assert.Equal(t, f.poolDeposit+1000, acc.Lamports)
	assert.Equal(t, &EscrowPool{Remaining: 1000, Creator: f.creatorKey}, f.pool(f.id))
	assert.Equal(t, 10*sol-f.poolDeposit-1000, f.balance(f.creatorKey))
}

func TestCollectFundsAccumulates(t *testing.T) {
	f := newEscrowFixture(t)
	f.collect(300)
	f.collect(300)

	assert.Equal(t, uint64(600), f.pool(f.id).Remaining)
	assert.Equal(t, f.poolDeposit+600, f.balance(f.escrowKey))

	mallory, malloryKey := f.wallet("mallory", sol)
	ix, err := NewCollectFundsInstruction(programID, malloryKey, f.id, 5)
	f.mustFail(ErrAccountMismatch, ix, err, mallory)

	ix, err = NewCollectFundsInstruction(programID, f.creatorKey, f.id, 0)
	f.mustFail(ErrInvalidAmount, ix, err, f.creator)
	assert.Equal(t, uint64(600), f.pool(f.id).Remaining)
}

func TestCollectFundsSubstitutedPool(t *testing.T) {
	f := newEscrowFixture(t)

	ix, err := NewCollectFundsInstruction(programID, f.creatorKey, dropID("other"), 100)
	require.NoError(t, err)
	ix.Data, err = EncodeInstruction(CollectFunds{TotalAmount: 100, AirdropID: f.id})
	f.mustFail(ErrAccountMismatch, ix, err, f.creator)
	assert.Equal(t, 10*sol, f.balance(f.creatorKey))
}

func TestCollectFundsPrefundedPool(t *testing.T) {
	f := newEscrowFixture(t)
	require.NoError(t, f.rt.Fund(f.escrowKey, 1))

	f.collect(1000)
	acc := f.account(f.escrowKey)
	require.NotNil(t, acc)
	assert.Equal(t, programID, acc.Owner)
	assert.Len(t, acc.Data, EscrowPoolSize)
	assert.Equal(t, f.poolDeposit+1000, acc.Lamports)
	assert.Equal(t, &EscrowPool{Remaining: 1000, Creator: f.creatorKey}, f.pool(f.id))
	assert.Equal(t, 10*sol-(f.poolDeposit-1)-1000, f.balance(f.creatorKey))

	ix, err := NewRefundEscrowInstruction(programID, f.creatorKey, f.id)
	f.mustSend(ix, err, f.creator)
	assert.Equal(t, 10*sol+1, f.balance(f.creatorKey), "the refund closes the whole balance into the creator")
}

// Collect 1000, distribute 300 and 400 with a 10% fee.
func TestDistributeAirdrop(t *testing.T) {
	f := newEscrowFixture(t)
	_, feeKey := f.wallet("fee", 0)
	_, r1 := f.wallet("r1", 0)
	_, r2 := f.wallet("r2", 0)

	f.collect(1000)
	ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id, []AirdropRecipient{
		{Recipient: r1, Amount: 300},
		{Recipient: r2, Amount: 400},
	}, feeKey, 10)
	res := f.mustSend(ix, err, f.creator)

	assert.Equal(t, uint64(100), f.balance(feeKey))
	assert.Equal(t, uint64(300), f.balance(r1))
	assert.Equal(t, uint64(400), f.balance(r2))
	assert.Equal(t, 10*sol-800, f.balance(f.creatorKey), "remainder of 200 and the deposit return to the creator")
	assert.Nil(t, f.account(f.escrowKey), "pool closed")

	// fee + recipients + remainder == collected
	assert.Equal(t, uint64(1000), f.balance(feeKey)+f.balance(r1)+f.balance(r2)+200)

	var transfers int
	for _, line := range res.Logs {
		if line == "Program "+types.SystemProgramAddr.String()+" success" {
			transfers++
		}
	}
	assert.Equal(t, 4, transfers, "fee, two recipients and the remainder")

	// Terminal: the closed pool rejects every further instruction.
	claimer, _ := f.wallet("claimer", sol)
	c := f.claim(claimer, 1)
	assert.False(t, c.Success)
	assert.ErrorIs(t, c.Err, ErrUninitializedAccount)

	f.mustFail(ErrUninitializedAccount, ix, nil, f.creator)
	refund, err := NewRefundEscrowInstruction(programID, f.creatorKey, f.id)
	f.mustFail(ErrUninitializedAccount, refund, err, f.creator)
}

func TestDistributeAirdropValidation(t *testing.T) {
	f := newEscrowFixture(t)
	_, feeKey := f.wallet("fee", 0)
	_, r1 := f.wallet("r1", 0)
	mallory, malloryKey := f.wallet("mallory", sol)
	f.collect(1000)

	t.Run("recipients exceed distributable", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
			[]AirdropRecipient{{Recipient: r1, Amount: 901}}, feeKey, 10)
		res := f.mustFail(ErrInsufficientFunds, ix, err, f.creator)
		assert.Equal(t, ErrInsufficientFunds.Code, res.ErrorCode)
	})

	t.Run("full fee leaves nothing to distribute", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
			[]AirdropRecipient{{Recipient: r1, Amount: 1}}, feeKey, 100)
		f.mustFail(ErrInsufficientFunds, ix, err, f.creator)
	})

	t.Run("not the creator", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, malloryKey, f.id,
			[]AirdropRecipient{{Recipient: malloryKey, Amount: 900}}, malloryKey, 0)
		f.mustFail(ErrAccountMismatch, ix, err, mallory)
	})

	t.Run("fee wallet mismatch", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id, nil, feeKey, 10)
		require.NoError(t, err)
		ix.Accounts[2].Pubkey = malloryKey
		f.mustFail(ErrAccountMismatch, ix, nil, f.creator)
	})

	t.Run("recipient account mismatch", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
			[]AirdropRecipient{{Recipient: r1, Amount: 10}}, feeKey, 10)
		require.NoError(t, err)
		ix.Accounts[4].Pubkey = malloryKey
		f.mustFail(ErrAccountMismatch, ix, nil, f.creator)
	})

	t.Run("missing recipient accounts", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
			[]AirdropRecipient{{Recipient: r1, Amount: 10}}, feeKey, 10)
		require.NoError(t, err)
		ix.Accounts = ix.Accounts[:4]
		f.mustFail(ErrNotEnoughAccountKeys, ix, nil, f.creator)
	})

	t.Run("recipient total overflows", func(t *testing.T) {
		ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id, []AirdropRecipient{
			{Recipient: r1, Amount: ^uint64(0)},
			{Recipient: r1, Amount: 1},
		}, feeKey, 0)
		f.mustFail(ErrArithmeticOverflow, ix, err, f.creator)
	})

	// Nothing moved.
	assert.Equal(t, uint64(1000), f.pool(f.id).Remaining)
	assert.Equal(t, f.poolDeposit+1000, f.balance(f.escrowKey))
	assert.Equal(t, uint64(0), f.balance(feeKey))
	assert.Equal(t, uint64(0), f.balance(r1))
}

func TestDistributeFullFee(t *testing.T) {
	f := newEscrowFixture(t)
	_, feeKey := f.wallet("fee", 0)
	_, r1 := f.wallet("r1", 0)
	f.collect(1000)

	ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
		[]AirdropRecipient{{Recipient: r1, Amount: 0}}, feeKey, 100)
	f.mustSend(ix, err, f.creator)

	assert.Equal(t, uint64(1000), f.balance(feeKey))
	assert.Equal(t, uint64(0), f.balance(r1))
	assert.Equal(t, 10*sol-1000, f.balance(f.creatorKey))
	assert.Nil(t, f.account(f.escrowKey))
}

func TestDistributeOutOfRangeFee(t *testing.T) {
	f := newEscrowFixture(t)
	_, feeKey := f.wallet("fee", 0)
	_, r1 := f.wallet("r1", 0)
	f.collect(1000)

	ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
		[]AirdropRecipient{{Recipient: r1, Amount: 1000}}, feeKey, 101)
	f.mustSend(ix, err, f.creator)

	assert.Equal(t, uint64(0), f.balance(feeKey))
	assert.Equal(t, uint64(1000), f.balance(r1))
}

// Collect 500, claim 200 three times.
func TestClaimAirdrop(t *testing.T) {
	f := newEscrowFixture(t)
	claimer, claimerKey := f.wallet("claimer", sol)
	f.collect(500)

	for _, want := range []uint64{300, 100} {
		c := f.claim(claimer, 200)
		require.True(t, c.Success, c.Error)
		assert.Equal(t, want, f.pool(f.id).Remaining)
	}

	c := f.claim(claimer, 200)
	assert.False(t, c.Success)
	assert.ErrorIs(t, c.Err, ErrInsufficientFunds)
	assert.Equal(t, uint64(100), f.pool(f.id).Remaining)
	assert.Equal(t, sol+400, f.balance(claimerKey))
	assert.Equal(t, f.poolDeposit+100, f.balance(f.escrowKey))

	c = f.claim(claimer, 0)
	assert.ErrorIs(t, c.Err, ErrInvalidAmount)

	// A later distribution pays from what is left.
	_, feeKey := f.wallet("fee", 0)
	_, r1 := f.wallet("r1", 0)
	ix, err := NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
		[]AirdropRecipient{{Recipient: r1, Amount: 101}}, feeKey, 0)
	f.mustFail(ErrInsufficientFunds, ix, err, f.creator)

	ix, err = NewDistributeAirdropInstruction(programID, f.creatorKey, f.id,
		[]AirdropRecipient{{Recipient: r1, Amount: 60}}, feeKey, 10)
	f.mustSend(ix, err, f.creator)
	assert.Equal(t, uint64(10), f.balance(feeKey))
	assert.Equal(t, uint64(60), f.balance(r1))
	assert.Equal(t, 10*sol-500+30, f.balance(f.creatorKey))
	assert.Nil(t, f.account(f.escrowKey))
}

func TestClaimAirdropValidation(t *testing.T) {
	f := newEscrowFixture(t)
	claimer, claimerKey := f.wallet("claimer", sol)
	_, otherKey := f.wallet("other", 0)
	f.collect(500)

	// The signer must be the named recipient.
	ix, err := NewClaimAirdropInstruction(programID, claimerKey, f.id, 100)
	require.NoError(t, err)
	ix.Data, err = EncodeInstruction(ClaimAirdrop{AirdropID: f.id, Recipient: otherKey, Amount: 100})
	f.mustFail(ErrAccountMismatch, ix, err, claimer)

	// Pool of another airdrop id.
	ix, err = NewClaimAirdropInstruction(programID, claimerKey, dropID("unknown"), 100)
	f.mustFail(ErrUninitializedAccount, ix, err, claimer)

	// A zero claim is rejected before the pool is looked at.
	ix, err = NewClaimAirdropInstruction(programID, claimerKey, dropID("unknown"), 0)
	f.mustFail(ErrInvalidAmount, ix, err, claimer)

	assert.Equal(t, uint64(500), f.pool(f.id).Remaining)
}

func TestRefundEscrow(t *testing.T) {
	f := newEscrowFixture(t)
	claimer, _ := f.wallet("claimer", sol)
	f.collect(700)

	c := f.claim(claimer, 200)
	require.True(t, c.Success, c.Error)

	mallory, malloryKey := f.wallet("mallory", sol)
	ix, err := NewRefundEscrowInstruction(programID, malloryKey, f.id)
	f.mustFail(ErrAccountMismatch, ix, err, mallory)

	ix, err = NewRefundEscrowInstruction(programID, f.creatorKey, f.id)
	f.mustSend(ix, err, f.creator)
	assert.Equal(t, 10*sol-200, f.balance(f.creatorKey))
	assert.Nil(t, f.account(f.escrowKey))

	f.mustFail(ErrUninitializedAccount, ix, nil, f.creator)
	c = f.claim(claimer, 1)
	assert.ErrorIs(t, c.Err, ErrUninitializedAccount)
}

func TestPoolReopensAfterClose(t *testing.T) {
	f := newEscrowFixture(t)
	f.collect(100)
	ix, err := NewRefundEscrowInstruction(programID, f.creatorKey, f.id)
	f.mustSend(ix, err, f.creator)

	// A purged pool address can be funded again from scratch.
	f.collect(50)
	assert.Equal(t, &EscrowPool{Remaining: 50, Creator: f.creatorKey}, f.pool(f.id))
}
