package types

import (
	"crypto/ed25519"
	"testing"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	p := SystemProgramAddr
	if !p.IsZero() {
		t.Fatalf("system program address should be all zeros, got %v", p[:])
	}

	parsed, err := PubkeyFromBase58(JustTheTipProgramAddr.String())
	if err != nil {
		t.Fatalf("PubkeyFromBase58 failed: %v", err)
	}
	if parsed != JustTheTipProgramAddr {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, JustTheTipProgramAddr)
	}

	if _, err := PubkeyFromBase58("abc"); err == nil {
		t.Error("short pubkey should fail to parse")
	}
}

func TestPubkeyText(t *testing.T) {
	text, err := JustTheTipProgramAddr.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var p Pubkey
	if err := p.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if p != JustTheTipProgramAddr {
		t.Errorf("text round trip mismatch: got %s", p)
	}
}

func TestSignatureVerify(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	pub := PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey))

	msg := []byte("tip")
	sig, err := SignatureFromBytes(ed25519.Sign(priv, msg))
	if err != nil {
		t.Fatalf("SignatureFromBytes failed: %v", err)
	}
	if !sig.Verify(pub, msg) {
		t.Error("valid signature should verify")
	}
	if sig.Verify(pub, []byte("tap")) {
		t.Error("signature should not verify a different message")
	}
}

func TestHashHex(t *testing.T) {
	var h Hash
	h[0] = 0xab
	parsed, err := HashFromHex(h.Hex())
	if err != nil {
		t.Fatalf("HashFromHex failed: %v", err)
	}
	if parsed != h {
		t.Errorf("hex round trip mismatch")
	}
	if _, err := HashFromHex("zz"); err == nil {
		t.Error("invalid hex should fail")
	}
}
