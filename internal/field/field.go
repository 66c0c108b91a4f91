// field.go - BN254 scalar-field helpers shared by the shielded pool packages.
//
// Every hash in the protocol is MiMC over the BN254 scalar field; every scalar
// that crosses a package boundary is a canonical fr.Element. The helpers here
// keep the reduction rules in one place so callers never feed the MiMC digest
// a non-canonical block.

package field

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
)

// Hash computes MiMC over the canonical byte encoding of each element.
func Hash(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Reduce interprets b as a big-endian integer reduced into the scalar field.
func Reduce(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}

// FromBig reduces a big integer into the scalar field.
// Returns an error if v is negative or not below the field modulus:
// callers that accept external input must reject rather than wrap.
func FromBig(v *big.Int) (fr.Element, error) {
	var e fr.Element
	if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("field: value out of range")
	}
	e.SetBigInt(v)
	return e, nil
}

// FromUint64 lifts a machine integer into the scalar field.
func FromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// FromAddress left-pads a 20-byte address into a field element.
func FromAddress(addr common.Address) fr.Element {
	var e fr.Element
	e.SetBytes(addr.Bytes())
	return e
}

// Random draws a uniformly random field element from crypto/rand.
func Random() fr.Element {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		// crypto/rand failure is unrecoverable for protocol randomness
		panic(err)
	}
	return e
}

// RandomBytes generates n random bytes using crypto/rand.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// ToBig returns the canonical big-integer value of e.
func ToBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}
