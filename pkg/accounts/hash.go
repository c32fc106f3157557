// Package accounts provides hash computation for ledger state fingerprints.
package accounts

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/zeebo/blake3"
)

// ComputeAccountHash computes the hash of a single account.
//
//	blake3(lamports || data || executable || owner || pubkey)
//
// Zero-lamport accounts hash to the zero hash so deleted and absent
// accounts are indistinguishable.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.Lamports == 0 {
		return types.Hash{}
	}

	h := blake3.New()

	var lamports [8]byte
	binary.LittleEndian.PutUint64(lamports[:], account.Lamports)
	h.Write(lamports[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeDeltaHash computes the Merkle root over a set of account states,
// typically the accounts written by one transaction. Entries are sorted by
// pubkey before hashing; the input slice is not modified.
func ComputeDeltaHash(entries []AccountEntry) types.Hash {
	if len(entries) == 0 {
		return types.Hash{}
	}

	sorted := make([]AccountEntry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeStateHash computes the Merkle root over every account in db.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the root of a binary Merkle tree.
//
// Tree structure:
//   - Leaf: blake3(0x00 || hash)
//   - Node: blake3(0x01 || left || right)
//   - If odd number of nodes, last node is paired with zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}

	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	buf := make([]byte, 1+32)
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return blake3.Sum256(buf)
}

func computeNodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+32+32)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return blake3.Sum256(buf)
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i][:], pubkeys[j][:]) < 0
	})
}

func sortEntries(entries []AccountEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Pubkey[:], entries[j].Pubkey[:]) < 0
	})
}
