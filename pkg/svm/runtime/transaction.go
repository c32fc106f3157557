package runtime

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

var (
	// ErrNoInstructions is returned when building an empty transaction.
	ErrNoInstructions = errors.New("transaction has no instructions")

	// ErrMissingSigner is returned when a required signer key was not supplied.
	ErrMissingSigner = errors.New("missing signer private key")

	// ErrUnexpectedSigner is returned when a supplied key signs nothing.
	ErrUnexpectedSigner = errors.New("signer is not required by the message")

	// ErrTooManyAccounts is returned when a message references more than 256 keys.
	ErrTooManyAccounts = errors.New("too many account keys")

	// ErrSignatureFailure is returned when a signature does not verify.
	ErrSignatureFailure = errors.New("transaction signature verification failure")

	// ErrSanitizeFailure is returned for structurally invalid messages.
	ErrSanitizeFailure = errors.New("transaction failed to sanitize")
)

// MessageHeader describes signature and account requirements.
type MessageHeader struct {
	// NumRequiredSignatures is the number of signatures required.
	NumRequiredSignatures uint8

	// NumReadonlySignedAccounts is the number of readonly signer accounts.
	NumReadonlySignedAccounts uint8

	// NumReadonlyUnsignedAccounts is the number of readonly non-signer accounts.
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction is an instruction whose accounts are indexes into
// Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message is the signed body of a transaction.
//
// AccountKeys are ordered signer-writable, signer-readonly,
// unsigned-writable, unsigned-readonly, with the fee payer first.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

type keyFlags struct {
	key      types.Pubkey
	signer   bool
	writable bool
}

// NewMessage compiles instructions into a message paid for by payer.
func NewMessage(payer types.Pubkey, blockhash types.Hash, ixs []svm.Instruction) (*Message, error) {
	if len(ixs) == 0 {
		return nil, ErrNoInstructions
	}

	var order []*keyFlags
	index := make(map[types.Pubkey]*keyFlags)
	add := func(key types.Pubkey, signer, writable bool) {
		f, ok := index[key]
		if !ok {
			f = &keyFlags{key: key}
			index[key] = f
			order = append(order, f)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	add(payer, true, true)
	for _, ix := range ixs {
		for _, meta := range ix.Accounts {
			add(meta.Pubkey, meta.IsSigner, meta.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(order) > 256 {
		return nil, ErrTooManyAccounts
	}

	var groups [4][]*keyFlags
	for _, f := range order {
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], f)
		case f.signer:
			groups[1] = append(groups[1], f)
		case f.writable:
			groups[2] = append(groups[2], f)
		default:
			groups[3] = append(groups[3], f)
		}
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		RecentBlockhash: blockhash,
	}
	position := make(map[types.Pubkey]uint8, len(order))
	for _, g := range groups {
		for _, f := range g {
			position[f.key] = uint8(len(msg.AccountKeys))
			msg.AccountKeys = append(msg.AccountKeys, f.key)
		}
	}

	for _, ix := range ixs {
		ci := CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			AccountIndexes: make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, meta := range ix.Accounts {
			ci.AccountIndexes[i] = position[meta.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Serialize returns the Borsh encoding of the message. This is the byte
// string every signature covers.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(*m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// IsSigner reports whether the key at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the key at index is writable.
func (m *Message) IsWritable(index int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if index < numSigners {
		// Signer accounts: first (numSigners - numReadonlySigned) are writable
		return index < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	// Non-signer accounts: first (total - numSigners - numReadonlyUnsigned) are writable
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return index-numSigners < numWritableUnsigned
}

// Sanitize checks the structural validity of the message.
func (m *Message) Sanitize() error {
	h := m.Header
	n := len(m.AccountKeys)
	switch {
	case n == 0 || n > 256:
		return fmt.Errorf("%w: %d account keys", ErrSanitizeFailure, n)
	case h.NumRequiredSignatures == 0:
		return fmt.Errorf("%w: no fee payer", ErrSanitizeFailure)
	case int(h.NumRequiredSignatures) > n:
		return fmt.Errorf("%w: more signers than keys", ErrSanitizeFailure)
	case h.NumReadonlySignedAccounts >= h.NumRequiredSignatures:
		return fmt.Errorf("%w: fee payer must be writable", ErrSanitizeFailure)
	case int(h.NumReadonlyUnsignedAccounts) > n-int(h.NumRequiredSignatures):
		return fmt.Errorf("%w: readonly unsigned count out of range", ErrSanitizeFailure)
	}

	seen := make(map[types.Pubkey]struct{}, n)
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate account key %s", ErrSanitizeFailure, k)
		}
		seen[k] = struct{}{}
	}

	if len(m.Instructions) == 0 {
		return fmt.Errorf("%w: %v", ErrSanitizeFailure, ErrNoInstructions)
	}
	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= n || ix.ProgramIDIndex == 0 {
			return fmt.Errorf("%w: instruction %d: invalid program id index", ErrSanitizeFailure, i)
		}
		for _, idx := range ix.AccountIndexes {
			if int(idx) >= n {
				return fmt.Errorf("%w: instruction %d: invalid account index %d", ErrSanitizeFailure, i, idx)
			}
		}
	}
	return nil
}

// NewTransaction compiles and signs instructions. The first signer pays
// and every key the instructions mark as signer must be supplied.
func NewTransaction(blockhash types.Hash, ixs []svm.Instruction, signers ...ed25519.PrivateKey) (*Transaction, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: no fee payer", ErrMissingSigner)
	}
	payer := types.PubkeyFromPublicKey(signers[0].Public().(ed25519.PublicKey))

	msg, err := NewMessage(payer, blockhash, ixs)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Message: *msg}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills Signatures from the supplied keys.
func (tx *Transaction) Sign(signers ...ed25519.PrivateKey) error {
	keys := make(map[types.Pubkey]ed25519.PrivateKey, len(signers))
	for _, k := range signers {
		keys[types.PubkeyFromPublicKey(k.Public().(ed25519.PublicKey))] = k
	}

	payload, err := tx.Message.Serialize()
	if err != nil {
		return err
	}

	n := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]types.Signature, n)
	for i := 0; i < n; i++ {
		key := tx.Message.AccountKeys[i]
		priv, ok := keys[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		copy(tx.Signatures[i][:], ed25519.Sign(priv, payload))
		delete(keys, key)
	}
	if len(keys) > 0 {
		extra := make([]string, 0, len(keys))
		for key := range keys {
			extra = append(extra, key.String())
		}
		sort.Strings(extra)
		return fmt.Errorf("%w: %s", ErrUnexpectedSigner, strings.Join(extra, ", "))
	}
	return nil
}

// Signature returns the first signature, used as the transaction id.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures sanitizes the message and checks every signature.
func (tx *Transaction) VerifySignatures() error {
	if err := tx.Message.Sanitize(); err != nil {
		return err
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("%w: have %d signatures, need %d",
			ErrSignatureFailure, len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}

	payload, err := tx.Message.Serialize()
	if err != nil {
		return err
	}
	for i, sig := range tx.Signatures {
		if !sig.Verify(tx.Message.AccountKeys[i], payload) {
			return fmt.Errorf("%w: signer %s", ErrSignatureFailure, tx.Message.AccountKeys[i])
		}
	}
	return nil
}
