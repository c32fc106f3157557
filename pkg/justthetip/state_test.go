package justthetip

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/justthetip/internal/types"
)

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 93, UserAccountSize)
	assert.Equal(t, 80, TipRecordSize)
	assert.Equal(t, 40, EscrowPoolSize)

	tip, err := (&TipRecord{Amount: 1}).Marshal()
	require.NoError(t, err)
	assert.Len(t, tip, TipRecordSize)

	pool, err := (&EscrowPool{Remaining: 1}).Marshal()
	require.NoError(t, err)
	assert.Len(t, pool, EscrowPoolSize)
}

func TestUserAccountPadding(t *testing.T) {
	u := UserAccount{
		Authority:     types.Pubkey{7},
		UserID:        "u1",
		TotalSent:     10,
		TotalReceived: 20,
		TipCount:      3,
		Bump:          254,
	}

	buf := make([]byte, UserAccountSize)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, u.MarshalTo(buf))

	// authority, id length, id, three counters, bump
	used := 32 + 4 + 2 + 24 + 1
	assert.Equal(t, make([]byte, UserAccountSize-used), buf[used:])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[32:]))

	got, err := DecodeUserAccount(buf)
	require.NoError(t, err)
	assert.Equal(t, &u, got)

	// Longest identifier fills the account.
	u.UserID = strings.Repeat("x", MaxUserIDLen)
	require.NoError(t, u.MarshalTo(buf))
	got, err = DecodeUserAccount(buf)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)

	u.UserID = strings.Repeat("x", MaxUserIDLen+1)
	assert.ErrorIs(t, u.MarshalTo(buf), ErrInvalidAccountData)

	u.UserID = "u1"
	assert.ErrorIs(t, u.MarshalTo(make([]byte, 40)), ErrInvalidAccountData)
}

func TestDecodeUserAccountErrors(t *testing.T) {
	_, err := DecodeUserAccount(make([]byte, UserAccountSize))
	assert.ErrorIs(t, err, ErrInvalidAccountData, "blank record has an empty id")

	_, err = DecodeUserAccount(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestTipRecord(t *testing.T) {
	rec := TipRecord{
		Sender:    types.Pubkey{1},
		Recipient: types.Pubkey{2},
		Amount:    50,
		Timestamp: -5,
	}
	b, err := rec.Marshal()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), binary.LittleEndian.Uint64(b[64:]))
	assert.Equal(t, int64(-5), int64(binary.LittleEndian.Uint64(b[72:])))

	got, err := DecodeTipRecord(b)
	require.NoError(t, err)
	assert.Equal(t, &rec, got)

	_, err = DecodeTipRecord(b[:79])
	assert.ErrorIs(t, err, ErrInvalidAccountData)
	_, err = DecodeTipRecord(append(b, 0))
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestEscrowPoolLayout(t *testing.T) {
	p := EscrowPool{Remaining: 1000, Creator: types.Pubkey{3}}
	b, err := p.Marshal()
	require.NoError(t, err)

	// The counter leads the record.
	assert.Equal(t, uint64(1000), binary.LittleEndian.Uint64(b[:8]))
	assert.Equal(t, byte(3), b[8])

	got, err := DecodeEscrowPool(b)
	require.NoError(t, err)
	assert.Equal(t, &p, got)

	_, err = DecodeEscrowPool(b[:8])
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestIsBlank(t *testing.T) {
	assert.True(t, isBlank(nil))
	assert.True(t, isBlank(make([]byte, 80)))
	assert.False(t, isBlank([]byte{0, 0, 1}))
}
