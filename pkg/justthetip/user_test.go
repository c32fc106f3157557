package justthetip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/accounts"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/pda"
)

func TestUserAddressDerivation(t *testing.T) {
	a1, err := UserAddress(programID, "alice")
	require.NoError(t, err)
	a2, err := UserAddress(programID, "alice")
	require.NoError(t, err)
	b, err := UserAddress(programID, "bob")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1.Key, b.Key)
	assert.False(t, pda.IsOnCurve(a1.Key))

	key, err := pda.CreateProgramAddress(programID, []byte("user"), []byte("alice"), []byte{a1.Bump})
	require.NoError(t, err)
	assert.Equal(t, a1.Key, key)

	other, err := UserAddress(types.Pubkey{1}, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, a1.Key, other.Key, "addresses are bound to the program")

	escrow, err := EscrowAddress(programID, dropID("alice"))
	require.NoError(t, err)
	assert.NotEqual(t, a1.Key, escrow.Key)
}

func TestInitializeUser(t *testing.T) {
	l := newLedger(t)
	alice, aliceKey := l.wallet("alice", 10*sol)

	l.register(alice, "u1")

	addr, err := UserAddress(programID, "u1")
	require.NoError(t, err)
	acc := l.account(addr.Key)
	require.NotNil(t, acc)
	assert.Equal(t, programID, acc.Owner)
	assert.Len(t, acc.Data, UserAccountSize)
	assert.Equal(t, l.rt.MinimumBalance(UserAccountSize), acc.Lamports)
	assert.Equal(t, 10*sol-acc.Lamports, l.balance(aliceKey))

	assert.Equal(t, &UserAccount{Authority: aliceKey, UserID: "u1", Bump: addr.Bump}, l.user("u1"))

	// Initializing again changes nothing.
	before := acc
	l.register(alice, "u1")
	assert.Equal(t, before, l.account(addr.Key))
	assert.Equal(t, 10*sol-acc.Lamports, l.balance(aliceKey))
}

func TestInitializeUserValidation(t *testing.T) {
	l := newLedger(t)
	alice, aliceKey := l.wallet("alice", 10*sol)
	payer, _ := l.wallet("payer", 10*sol)

	u1, err := UserAddress(programID, "u1")
	require.NoError(t, err)

	t.Run("authority must sign", func(t *testing.T) {
		ix, err := newInstruction(programID, InitializeUser{UserID: "u1"}, []svm.AccountMeta{
			svm.NewAccountMeta(u1.Key, false, true),
			svm.NewAccountMeta(aliceKey, false, true),
			svm.NewAccountMeta(types.SystemProgramAddr, false, false),
		})
		l.mustFail(ErrMissingRequiredSignature, ix, err, payer)
	})

	t.Run("address must match id", func(t *testing.T) {
		ix, err := NewInitializeUserInstruction(programID, aliceKey, "u2")
		require.NoError(t, err)
		ix.Accounts[0].Pubkey = u1.Key
		l.mustFail(ErrAccountMismatch, ix, nil, alice)
	})

	t.Run("id length", func(t *testing.T) {
		for _, id := range []string{"", strings.Repeat("x", MaxUserIDLen+1)} {
			ix, err := newInstruction(programID, InitializeUser{UserID: id}, []svm.AccountMeta{
				svm.NewAccountMeta(u1.Key, false, true),
				svm.NewAccountMeta(aliceKey, true, true),
				svm.NewAccountMeta(types.SystemProgramAddr, false, false),
			})
			l.mustFail(ErrInvalidInstruction, ix, err, alice)
		}
	})

	t.Run("missing accounts", func(t *testing.T) {
		ix, err := NewInitializeUserInstruction(programID, aliceKey, "u1")
		require.NoError(t, err)
		ix.Accounts = ix.Accounts[:2]
		l.mustFail(ErrNotEnoughAccountKeys, ix, nil, alice)
	})

	_, err = l.db.GetAccount(u1.Key)
	assert.Error(t, err, "no failed attempt may create the account")
}

func TestInitializeUserPrefunded(t *testing.T) {
	l := newLedger(t)
	alice, aliceKey := l.wallet("alice", 10*sol)
	rent := l.rt.MinimumBalance(UserAccountSize)

	u1, err := UserAddress(programID, "u1")
	require.NoError(t, err)
	require.NoError(t, l.rt.Fund(u1.Key, 1))

	l.register(alice, "u1")
	acc := l.account(u1.Key)
	require.NotNil(t, acc)
	assert.Equal(t, programID, acc.Owner)
	assert.Len(t, acc.Data, UserAccountSize)
	assert.Equal(t, rent, acc.Lamports)
	assert.Equal(t, 10*sol-(rent-1), l.balance(aliceKey), "only the shortfall is paid")
	assert.Equal(t, &UserAccount{Authority: aliceKey, UserID: "u1", Bump: u1.Bump}, l.user("u1"))

	// A balance above the minimum is kept as is.
	u2, err := UserAddress(programID, "u2")
	require.NoError(t, err)
	require.NoError(t, l.rt.Fund(u2.Key, rent+500))
	before := l.balance(aliceKey)
	l.register(alice, "u2")
	assert.Equal(t, rent+500, l.balance(u2.Key))
	assert.Equal(t, before, l.balance(aliceKey))
	assert.Equal(t, "u2", l.user("u2").UserID)
}

func TestInitializeUserForeignAccount(t *testing.T) {
	l := newLedger(t)
	alice, aliceKey := l.wallet("alice", 10*sol)
	_, otherProgram := l.wallet("other-program", 0)

	u1, err := UserAddress(programID, "u1")
	require.NoError(t, err)
	require.NoError(t, l.db.SetAccount(u1.Key, &accounts.Account{Lamports: 10, Owner: otherProgram}))

	ix, err := NewInitializeUserInstruction(programID, aliceKey, "u1")
	l.mustFail(ErrUninitializedAccount, ix, err, alice)
	assert.Equal(t, otherProgram, l.account(u1.Key).Owner)
	assert.Equal(t, 10*sol, l.balance(aliceKey))
}
