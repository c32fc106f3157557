// Package pda implements program derived address (PDA) operations.
//
// A derived address is the sha256 of the seeds, the program id and a fixed
// marker, accepted only when the result is not a valid ed25519 point so that
// no private key can exist for it. The only way to "sign" for such an
// account is the Signer capability returned by FindProgramAddress, which the
// runtime checks by re-deriving the address under the calling program.
package pda

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/justthetip/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// Compute unit costs.
const (
	CUCreateProgramAddress = uint64(1_500)
	CUFindProgramAddress   = uint64(1_500) // per bump iteration
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds - derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// Meter is consumed once per derivation attempt. A nil Meter is free.
type Meter interface {
	ConsumeCompute(cost uint64) error
}

// Address is a derived address together with the bump that produced it.
type Address struct {
	Key  types.Pubkey
	Bump uint8

	programID types.Pubkey
	seeds     [][]byte
}

// Signer returns the signing capability for this address.
func (a Address) Signer() Signer {
	return Signer{programID: a.programID, seeds: a.Seeds()}
}

// Seeds returns the full seed list including the trailing bump seed.
func (a Address) Seeds() [][]byte {
	return cloneSeeds(a.seeds)
}

// Signer authorizes a cross-program invocation to treat a derived address
// as a signer. It can only be obtained from a successful derivation.
type Signer struct {
	programID types.Pubkey
	seeds     [][]byte
}

// Seeds returns the full seed list including the bump.
func (s Signer) Seeds() [][]byte {
	return cloneSeeds(s.seeds)
}

// Address re-derives the address under programID. The runtime passes the id
// of the invoking program, so a Signer minted for another program yields an
// address nobody holds.
func (s Signer) Address(programID types.Pubkey) (types.Pubkey, error) {
	if len(s.seeds) == 0 {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return CreateProgramAddress(programID, s.seeds...)
}

// ProgramID returns the program the capability was derived for.
func (s Signer) ProgramID() types.Pubkey {
	return s.programID
}

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrInvalidSeeds if the derived address is on the ed25519 curve.
func CreateProgramAddress(programID types.Pubkey, seeds ...[]byte) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var out types.Pubkey
	copy(out[:], h.Sum(nil))

	if isOnCurve(out[:]) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return out, nil
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 to 0.
func FindProgramAddress(programID types.Pubkey, seeds ...[]byte) (Address, error) {
	return FindProgramAddressMetered(nil, programID, seeds...)
}

// FindProgramAddressMetered is FindProgramAddress charging m for every bump
// tried.
func FindProgramAddressMetered(m Meter, programID types.Pubkey, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds-1 { // room for the bump seed
		return Address{}, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := uint8(255); ; bump-- {
		if m != nil {
			if err := m.ConsumeCompute(CUFindProgramAddress); err != nil {
				return Address{}, err
			}
		}

		withBump[len(seeds)] = []byte{bump}
		key, err := CreateProgramAddress(programID, withBump...)
		if err == nil {
			return Address{
				Key:       key,
				Bump:      bump,
				programID: programID,
				seeds:     cloneSeeds(withBump),
			}, nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Address{}, err
		}

		if bump == 0 {
			break
		}
	}
	return Address{}, ErrNoViableBump
}

// IsOnCurve reports whether key decodes to a point on the ed25519 curve.
func IsOnCurve(key types.Pubkey) bool {
	return isOnCurve(key[:])
}

func cloneSeeds(seeds [][]byte) [][]byte {
	out := make([][]byte, len(seeds))
	for i, s := range seeds {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

var (
	// Field prime p = 2^255 - 19
	fieldP = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

	// Curve parameter d = -121665/121666 (mod p)
	curveD = func() *big.Int {
		d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), fieldP))
		return d.Mod(d, fieldP)
	}()

	// (p-1)/2 for Euler's criterion
	legendreExp = new(big.Int).Rsh(new(big.Int).Sub(fieldP, big.NewInt(1)), 1)

	bigOne = big.NewInt(1)
)

// isOnCurve checks if the given bytes represent a point on the ed25519 curve.
//
// Ed25519 uses the twisted Edwards curve -x^2 + y^2 = 1 + d*x^2*y^2. A
// compressed point stores y and the sign of x; it decodes iff
// x^2 = (y^2 - 1) / (d*y^2 + 1) is a quadratic residue mod p.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}

	yBytes := make([]byte, 32)
	copy(yBytes, point)
	yBytes[31] &= 0x7F // sign of x

	// little-endian to big.Int
	for i, j := 0, 31; i < j; i, j = i+1, j-1 {
		yBytes[i], yBytes[j] = yBytes[j], yBytes[i]
	}
	y := new(big.Int).SetBytes(yBytes)
	if y.Cmp(fieldP) >= 0 {
		return false
	}

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, fieldP)

	num := new(big.Int).Sub(y2, bigOne)
	num.Mod(num, fieldP)

	den := new(big.Int).Mul(curveD, y2)
	den.Add(den, bigOne)
	den.Mod(den, fieldP)

	denInv := new(big.Int).ModInverse(den, fieldP)
	if denInv == nil {
		return false
	}
	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, fieldP)

	if x2.Sign() == 0 {
		return true
	}
	return new(big.Int).Exp(x2, legendreExp, fieldP).Cmp(bigOne) == 0
}
