// Package types provides well-known program addresses.
package types

import "fmt"

var (
	// SystemProgramAddr is the System Program address. It decodes to 32 zero bytes.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// JustTheTipProgramAddr is the default address the tip program is deployed at.
	JustTheTipProgramAddr = MustPubkeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}
