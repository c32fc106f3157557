package justthetip

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDiscriminator(t *testing.T) {
	tip := EventDiscriminator("TipEvent")
	assert.Equal(t, tip, EventDiscriminator(TipEvent{}.EventName()))
	assert.NotEqual(t, tip, EventDiscriminator("AirdropClaimEvent"))

	b, err := EncodeEvent(TipEvent{Amount: 7})
	require.NoError(t, err)
	assert.Len(t, b, 8+32+32+8+1+8)
	assert.Equal(t, tip[:], b[:8])
}

func TestExecuteTipEmitsEvent(t *testing.T) {
	f := newTipFixture(t)
	f.create(1000)

	ix, err := NewExecuteTipWithRegistryInstruction(programID, f.tipKey, f.senderKey, f.recipientKey, "s", "r")
	res := f.mustSend(ix, err, f.sender)

	events, err := ParseEvents(res.Logs)
	require.NoError(t, err)
	assert.Equal(t, []Event{TipEvent{
		Sender:    f.senderKey,
		Recipient: f.recipientKey,
		Amount:    1000,
		TokenType: TokenSOL,
		Timestamp: startTime,
	}}, events)
}

func TestClaimAirdropEmitsEvent(t *testing.T) {
	f := newEscrowFixture(t)
	claimer, claimerKey := f.wallet("claimer", sol)
	f.collect(500)

	res := f.claim(claimer, 200)
	require.True(t, res.Success, res.Error)
	events, err := ParseEvents(res.Logs)
	require.NoError(t, err)
	assert.Equal(t, []Event{AirdropClaimEvent{
		Airdrop:   f.escrowKey,
		Claimer:   claimerKey,
		Amount:    200,
		Timestamp: startTime,
	}}, events)

	// Failed claims emit nothing.
	res = f.claim(claimer, 1000)
	require.False(t, res.Success)
	events, err = ParseEvents(res.Logs)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseEvents(t *testing.T) {
	tip, err := EncodeEvent(TipEvent{Amount: 1})
	require.NoError(t, err)
	claim, err := EncodeEvent(AirdropClaimEvent{Amount: 2})
	require.NoError(t, err)
	foreign := append(make([]byte, 8), 1, 2, 3)

	logs := []string{
		"Program log: Instruction: ExecuteTip",
		dataLogPrefix + base64.StdEncoding.EncodeToString(tip),
		dataLogPrefix + base64.StdEncoding.EncodeToString(foreign) + " " + base64.StdEncoding.EncodeToString(claim),
	}
	events, err := ParseEvents(logs)
	require.NoError(t, err)
	assert.Equal(t, []Event{TipEvent{Amount: 1}, AirdropClaimEvent{Amount: 2}}, events)

	_, err = ParseEvents([]string{dataLogPrefix + "not base64!"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = ParseEvents([]string{dataLogPrefix + base64.StdEncoding.EncodeToString(tip[:20])})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = ParseEvents([]string{dataLogPrefix + base64.StdEncoding.EncodeToString([]byte{1})})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
