package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/accounts"
	"github.com/fortiblox/justthetip/pkg/justthetip"
	"github.com/fortiblox/justthetip/pkg/svm"
	"github.com/fortiblox/justthetip/pkg/svm/runtime"
)

// Script is a YAML ledger scenario: genesis balances followed by one
// transaction per step. Wallets, tip accounts and airdrops are named by
// label; the same label always resolves to the same key.
type Script struct {
	Genesis map[string]uint64 `yaml:"genesis"`
	Steps   []Step            `yaml:"steps"`
}

// Step is one instruction. Only the fields its op reads are used.
type Step struct {
	Op string `yaml:"op"`

	Authority       string `yaml:"authority"`
	Sender          string `yaml:"sender"`
	Recipient       string `yaml:"recipient"`
	Tip             string `yaml:"tip"`
	UserID          string `yaml:"user_id"`
	RecipientUserID string `yaml:"recipient_user_id"`
	Amount          uint64 `yaml:"amount"`

	Airdrop       string          `yaml:"airdrop"`
	Recipients    []StepRecipient `yaml:"recipients"`
	FeeWallet     string          `yaml:"fee_wallet"`
	FeePercentage uint8           `yaml:"fee_percentage"`

	// Expect is "ok" (the default) or "fail".
	Expect string `yaml:"expect"`
}

// StepRecipient is one airdrop payout.
type StepRecipient struct {
	To     string `yaml:"to"`
	Amount uint64 `yaml:"amount"`
}

var errExpectation = errors.New("step outcome differs from expectation")

// LoadScript reads and parses a script file. Unknown keys are rejected.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, st := range s.Steps {
		switch st.Expect {
		case "", "ok", "fail":
		default:
			return nil, fmt.Errorf("step %d: expect must be ok or fail, got %q", i+1, st.Expect)
		}
	}
	return &s, nil
}

// keyring hands out deterministic keypairs by label.
type keyring map[string]ed25519.PrivateKey

func (k keyring) get(label string) (ed25519.PrivateKey, types.Pubkey, error) {
	if label == "" {
		return nil, types.Pubkey{}, errors.New("missing account label")
	}
	priv, ok := k[label]
	if !ok {
		seed := sha256.Sum256([]byte("tipledger:" + label))
		priv = ed25519.NewKeyFromSeed(seed[:])
		k[label] = priv
	}
	return priv, types.PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey)), nil
}

func (k keyring) key(label string) (types.Pubkey, error) {
	_, pub, err := k.get(label)
	return pub, err
}

// airdropID maps a label to a pool id. A 64-character hex label is used
// verbatim; anything else is hashed.
func airdropID(label string) [32]byte {
	var id [32]byte
	if b, err := hex.DecodeString(label); err == nil && len(b) == len(id) {
		copy(id[:], b)
		return id
	}
	return sha256.Sum256([]byte(label))
}

// build compiles the step into an instruction and its signers, payer first.
func (st *Step) build(programID types.Pubkey, keys keyring) (svm.Instruction, []ed25519.PrivateKey, error) {
	switch st.Op {
	case "initialize_user":
		priv, authority, err := keys.get(st.Authority)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewInitializeUserInstruction(programID, authority, st.UserID)
		return ix, []ed25519.PrivateKey{priv}, err

	case "create_tip":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		tip, tipKey, err := keys.get(st.Tip)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		recipient, err := keys.key(st.Recipient)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewCreateTipInstruction(programID, tipKey, senderKey, st.UserID, recipient, st.Amount)
		return ix, []ed25519.PrivateKey{sender, tip}, err

	case "execute_tip":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		tip, err := keys.key(st.Tip)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		recipient, err := keys.key(st.Recipient)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		var ix svm.Instruction
		if st.UserID != "" || st.RecipientUserID != "" {
			ix, err = justthetip.NewExecuteTipWithRegistryInstruction(programID, tip, senderKey, recipient, st.UserID, st.RecipientUserID)
		} else {
			ix, err = justthetip.NewExecuteTipInstruction(programID, tip, senderKey, recipient)
		}
		return ix, []ed25519.PrivateKey{sender}, err

	case "cancel_tip":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		tip, err := keys.key(st.Tip)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewCancelTipInstruction(programID, tip, senderKey)
		return ix, []ed25519.PrivateKey{sender}, err

	case "collect_funds":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewCollectFundsInstruction(programID, senderKey, airdropID(st.Airdrop), st.Amount)
		return ix, []ed25519.PrivateKey{sender}, err

	case "distribute_airdrop":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		feeWallet, err := keys.key(st.FeeWallet)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		recipients := make([]justthetip.AirdropRecipient, len(st.Recipients))
		for i, r := range st.Recipients {
			key, err := keys.key(r.To)
			if err != nil {
				return svm.Instruction{}, nil, fmt.Errorf("recipient %d: %w", i, err)
			}
			recipients[i] = justthetip.AirdropRecipient{Recipient: key, Amount: r.Amount}
		}
		ix, err := justthetip.NewDistributeAirdropInstruction(programID, senderKey, airdropID(st.Airdrop), recipients, feeWallet, st.FeePercentage)
		return ix, []ed25519.PrivateKey{sender}, err

	case "refund_escrow":
		sender, senderKey, err := keys.get(st.Sender)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewRefundEscrowInstruction(programID, senderKey, airdropID(st.Airdrop))
		return ix, []ed25519.PrivateKey{sender}, err

	case "claim_airdrop":
		recipient, recipientKey, err := keys.get(st.Recipient)
		if err != nil {
			return svm.Instruction{}, nil, err
		}
		ix, err := justthetip.NewClaimAirdropInstruction(programID, recipientKey, airdropID(st.Airdrop), st.Amount)
		return ix, []ed25519.PrivateKey{recipient}, err
	}
	return svm.Instruction{}, nil, fmt.Errorf("unknown op %q", st.Op)
}

// blockhash derives a recent blockhash from the slot the step lands in,
// so rerunning a script against a persisted ledger signs fresh messages.
func blockhash(slot uint64) types.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	return types.Hash(sha256.Sum256(append([]byte("tipledger-blockhash:"), buf[:]...)))
}

// Runner executes scripts against a runtime.
type Runner struct {
	rt        *runtime.Runtime
	programID types.Pubkey
	keys      keyring
	out       io.Writer
	verbose   bool
}

// NewRunner creates a runner printing receipts to out.
func NewRunner(rt *runtime.Runtime, programID types.Pubkey, out io.Writer, verbose bool) *Runner {
	return &Runner{rt: rt, programID: programID, keys: keyring{}, out: out, verbose: verbose}
}

// Run funds genesis balances on a fresh ledger and executes every step.
// A step whose outcome differs from its expectation is reported and the
// run continues; the returned error then wraps errExpectation.
func (r *Runner) Run(ctx context.Context, s *Script) error {
	db := r.rt.DB()
	if db.GetSlot() == 0 {
		for _, label := range sortedLabels(s.Genesis) {
			key, err := r.keys.key(label)
			if err != nil {
				return err
			}
			if err := r.rt.Fund(key, s.Genesis[label]); err != nil {
				return fmt.Errorf("fund %s: %w", label, err)
			}
		}
	}

	var mismatched int
	for i := range s.Steps {
		st := &s.Steps[i]
		ix, signers, err := st.build(r.programID, r.keys)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		tx, err := runtime.NewTransaction(blockhash(db.GetSlot()+1), []svm.Instruction{ix}, signers...)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		res, err := r.rt.ProcessTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}

		wantFail := st.Expect == "fail"
		if res.Success == wantFail {
			mismatched++
		}
		r.printResult(i+1, st, res, res.Success != wantFail)
	}

	hash, err := accounts.ComputeStateHash(db)
	if err != nil {
		return fmt.Errorf("state hash: %w", err)
	}
	fmt.Fprintf(r.out, "\nslot %d, state hash %s\n", db.GetSlot(), hash)
	if err := r.printBalances(); err != nil {
		return err
	}

	if mismatched > 0 {
		return fmt.Errorf("%w: %d of %d steps", errExpectation, mismatched, len(s.Steps))
	}
	return nil
}

func (r *Runner) printResult(n int, st *Step, res *runtime.ExecutionResult, asExpected bool) {
	status := "ok"
	if !res.Success {
		status = fmt.Sprintf("failed (0x%x: %s)", res.ErrorCode, res.Error)
	}
	mark := ""
	if !asExpected {
		mark = "  <- unexpected"
	}
	fmt.Fprintf(r.out, "%3d %-18s slot=%-4d cu=%-6d %s%s\n", n, st.Op, res.Slot, res.ComputeUnitsUsed, status, mark)
	if events, err := justthetip.ParseEvents(res.Logs); err == nil {
		for _, ev := range events {
			fmt.Fprintf(r.out, "      event %s %+v\n", ev.EventName(), ev)
		}
	}
	if r.verbose || !asExpected {
		for _, line := range res.Logs {
			fmt.Fprintf(r.out, "      %s\n", line)
		}
	}
}

func (r *Runner) printBalances() error {
	labels := make([]string, 0, len(r.keys))
	for label := range r.keys {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		key, err := r.keys.key(label)
		if err != nil {
			return err
		}
		acc, err := r.rt.DB().GetAccount(key)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			continue
		case err != nil:
			return err
		}
		fmt.Fprintf(r.out, "  %-12s %s %d\n", label, key, acc.Lamports)
	}
	return nil
}

func sortedLabels(m map[string]uint64) []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
