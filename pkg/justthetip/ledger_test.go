package justthetip

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/accounts"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/runtime"
)

const (
	sol       = uint64(1_000_000_000)
	startTime = int64(1_700_000_000)
)

var programID = types.JustTheTipProgramAddr

// ledger runs the program inside a runtime over an in-memory store.
type ledger struct {
	t  *testing.T
	rt *runtime.Runtime
	db accounts.DB
	n  uint64
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db := accounts.NewMemoryDB()
	t.Cleanup(func() { db.Close() })

	rt := runtime.New(db, runtime.Config{
		Clock:  func() time.Time { return time.Unix(startTime, 0) },
		Logger: logrus.NewEntry(logger),
	})
	require.NoError(t, rt.Register(NewProcessor(programID)))
	return &ledger{t: t, rt: rt, db: db}
}

// wallet returns a deterministic keypair funded with lamports.
func (l *ledger) wallet(label string, lamports uint64) (ed25519.PrivateKey, types.Pubkey) {
	l.t.Helper()
	seed := sha256.Sum256([]byte(label))
	priv := ed25519.NewKeyFromSeed(seed[:])
	key := types.PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey))
	if lamports > 0 {
		require.NoError(l.t, l.rt.Fund(key, lamports))
	}
	return priv, key
}

// send signs ix with signers, the first paying, and executes it.
func (l *ledger) send(ix svm.Instruction, signers ...ed25519.PrivateKey) *runtime.ExecutionResult {
	l.t.Helper()
	l.n++
	var blockhash types.Hash
	binary.LittleEndian.PutUint64(blockhash[:], l.n)

	tx, err := runtime.NewTransaction(blockhash, []svm.Instruction{ix}, signers...)
	require.NoError(l.t, err)
	result, err := l.rt.ProcessTransaction(context.Background(), tx)
	require.NoError(l.t, err)
	return result
}

// mustSend is send that requires success.
func (l *ledger) mustSend(ix svm.Instruction, err error, signers ...ed25519.PrivateKey) *runtime.ExecutionResult {
	l.t.Helper()
	require.NoError(l.t, err)
	result := l.send(ix, signers...)
	require.True(l.t, result.Success, "%s\n%v", result.Error, result.Logs)
	return result
}

// mustFail is send that requires failure with want.
func (l *ledger) mustFail(want error, ix svm.Instruction, err error, signers ...ed25519.PrivateKey) *runtime.ExecutionResult {
	l.t.Helper()
	require.NoError(l.t, err)
	result := l.send(ix, signers...)
	require.False(l.t, result.Success, "expected failure, logs: %v", result.Logs)
	require.ErrorIs(l.t, result.Err, want)
	return result
}

func (l *ledger) balance(key types.Pubkey) uint64 {
	l.t.Helper()
	if acc := l.account(key); acc != nil {
		return acc.Lamports
	}
	return 0
}

// account returns the stored account or nil when absent.
func (l *ledger) account(key types.Pubkey) *accounts.Account {
	l.t.Helper()
	acc, err := l.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	}
	require.NoError(l.t, err)
	return acc
}

func (l *ledger) user(userID string) *UserAccount {
	l.t.Helper()
	addr, err := UserAddress(programID, userID)
	require.NoError(l.t, err)
	acc := l.account(addr.Key)
	require.NotNil(l.t, acc, "user %q not initialized", userID)
	u, err := DecodeUserAccount(acc.Data)
	require.NoError(l.t, err)
	return u
}

func (l *ledger) pool(airdropID [32]byte) *EscrowPool {
	l.t.Helper()
	addr, err := EscrowAddress(programID, airdropID)
	require.NoError(l.t, err)
	acc := l.account(addr.Key)
	require.NotNil(l.t, acc, "pool %x not open", airdropID)
	p, err := DecodeEscrowPool(acc.Data)
	require.NoError(l.t, err)
	return p
}

// register initializes userID for the wallet behind priv.
func (l *ledger) register(priv ed25519.PrivateKey, userID string) {
	l.t.Helper()
	authority := types.PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey))
	ix, err := NewInitializeUserInstruction(programID, authority, userID)
	l.mustSend(ix, err, priv)
}

func dropID(label string) [32]byte {
	return sha256.Sum256([]byte(label))
}
