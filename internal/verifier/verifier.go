// verifier.go - Pairing-based proof verification for the shielded pool.
//
// Proofs are Groth16-style over BN254 with a single public scalar: the
// folded transaction hash. Verification linear-combines the key's basis
// points with that scalar, adds the constant term, and evaluates a 4-term
// pairing product that must equal the identity.

package verifier

import (
	"errors"
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkshield/shieldpool/internal/field"
)

var (
	ErrMalformedPoint = errors.New("verifier: point not on curve or subgroup")
	ErrOutOfField     = errors.New("verifier: coordinate exceeds field modulus")
	ErrProofInvalid   = errors.New("verifier: pairing check failed")
)

// Proof is the 3-point argument submitted with a transaction.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// VerifyingKey is one trusted-setup key. IC holds exactly two basis points
// because the protocol folds all public data into a single scalar.
type VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    [2]bn254.G1Affine
}

func checkG1(p *bn254.G1Affine) error {
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return ErrMalformedPoint
	}
	return nil
}

func checkG2(p *bn254.G2Affine) error {
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return ErrMalformedPoint
	}
	return nil
}

// Validate range-checks every proof point before any arithmetic.
func (p *Proof) Validate() error {
	if err := checkG1(&p.A); err != nil {
		return fmt.Errorf("proof A: %w", err)
	}
	if err := checkG2(&p.B); err != nil {
		return fmt.Errorf("proof B: %w", err)
	}
	if err := checkG1(&p.C); err != nil {
		return fmt.Errorf("proof C: %w", err)
	}
	return nil
}

// Validate range-checks every key point. Registration rejects malformed keys
// so the hot verification path only re-checks the attacker-controlled proof.
func (vk *VerifyingKey) Validate() error {
	if err := checkG1(&vk.Alpha); err != nil {
		return fmt.Errorf("vk alpha: %w", err)
	}
	if err := checkG2(&vk.Beta); err != nil {
		return fmt.Errorf("vk beta: %w", err)
	}
	if err := checkG2(&vk.Gamma); err != nil {
		return fmt.Errorf("vk gamma: %w", err)
	}
	if err := checkG2(&vk.Delta); err != nil {
		return fmt.Errorf("vk delta: %w", err)
	}
	for i := range vk.IC {
		if err := checkG1(&vk.IC[i]); err != nil {
			return fmt.Errorf("vk ic[%d]: %w", i, err)
		}
	}
	return nil
}

// Verify checks the proof against the key and the single public scalar:
// e(-A, B) * e(alpha, beta) * e(IC0 + input*IC1, gamma) * e(C, delta) == 1.
func Verify(vk *VerifyingKey, proof *Proof, publicInput fr.Element) error {
	if err := proof.Validate(); err != nil {
		return err
	}

	var acc bn254.G1Affine
	acc.ScalarMultiplication(&vk.IC[1], field.ToBig(publicInput))
	acc.Add(&acc, &vk.IC[0])

	var negA bn254.G1Affine
	negA.Neg(&proof.A)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, acc, proof.C},
		[]bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if err != nil {
		return fmt.Errorf("verifier: pairing evaluation: %w", err)
	}
	if !ok {
		return ErrProofInvalid
	}
	return nil
}

// G1FromBig decodes an affine G1 point from raw coordinates, rejecting
// anything at or above the base-field modulus before constructing the point.
func G1FromBig(x, y *big.Int) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if !inBaseField(x) || !inBaseField(y) {
		return p, ErrOutOfField
	}
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	if err := checkG1(&p); err != nil {
		return p, err
	}
	return p, nil
}

// G2FromBig decodes an affine G2 point from raw tower coordinates.
func G2FromBig(x0, x1, y0, y1 *big.Int) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	for _, c := range []*big.Int{x0, x1, y0, y1} {
		if !inBaseField(c) {
			return p, ErrOutOfField
		}
	}
	p.X.A0.SetBigInt(x0)
	p.X.A1.SetBigInt(x1)
	p.Y.A0.SetBigInt(y0)
	p.Y.A1.SetBigInt(y1)
	if err := checkG2(&p); err != nil {
		return p, err
	}
	return p, nil
}

func inBaseField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(fp.Modulus()) < 0
}
