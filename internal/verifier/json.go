// json.go - JSON encoding for proofs and verifying keys.
//
// Curve points travel as base64 of their compressed marshaling; decoding
// goes through the same subgroup checks as any other untrusted point.

package verifier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
)

func encodePoint(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodePoint(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

type proofJSON struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON{
		A: encodePoint(p.A.Marshal()),
		B: encodePoint(p.B.Marshal()),
		C: encodePoint(p.C.Marshal()),
	})
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var raw proofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := unmarshalG1(&p.A, raw.A); err != nil {
		return fmt.Errorf("verifier: proof point A: %w", err)
	}
	if err := unmarshalG2(&p.B, raw.B); err != nil {
		return fmt.Errorf("verifier: proof point B: %w", err)
	}
	if err := unmarshalG1(&p.C, raw.C); err != nil {
		return fmt.Errorf("verifier: proof point C: %w", err)
	}
	return nil
}

type verifyingKeyJSON struct {
	Alpha string    `json:"alpha"`
	Beta  string    `json:"beta"`
	Gamma string    `json:"gamma"`
	Delta string    `json:"delta"`
	IC    [2]string `json:"ic"`
}

func (vk VerifyingKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(verifyingKeyJSON{
		Alpha: encodePoint(vk.Alpha.Marshal()),
		Beta:  encodePoint(vk.Beta.Marshal()),
		Gamma: encodePoint(vk.Gamma.Marshal()),
		Delta: encodePoint(vk.Delta.Marshal()),
		IC:    [2]string{encodePoint(vk.IC[0].Marshal()), encodePoint(vk.IC[1].Marshal())},
	})
}

func (vk *VerifyingKey) UnmarshalJSON(data []byte) error {
	var raw verifyingKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := unmarshalG1(&vk.Alpha, raw.Alpha); err != nil {
		return fmt.Errorf("verifier: alpha: %w", err)
	}
	if err := unmarshalG2(&vk.Beta, raw.Beta); err != nil {
		return fmt.Errorf("verifier: beta: %w", err)
	}
	if err := unmarshalG2(&vk.Gamma, raw.Gamma); err != nil {
		return fmt.Errorf("verifier: gamma: %w", err)
	}
	if err := unmarshalG2(&vk.Delta, raw.Delta); err != nil {
		return fmt.Errorf("verifier: delta: %w", err)
	}
	for i := range vk.IC {
		if err := unmarshalG1(&vk.IC[i], raw.IC[i]); err != nil {
			return fmt.Errorf("verifier: ic[%d]: %w", i, err)
		}
	}
	return nil
}

func unmarshalG1(p *bn254.G1Affine, s string) error {
	b, err := decodePoint(s)
	if err != nil {
		return err
	}
	return p.Unmarshal(b)
}

func unmarshalG2(p *bn254.G2Affine, s string) error {
	b, err := decodePoint(s)
	if err != nil {
		return err
	}
	return p.Unmarshal(b)
}

// KeyCoordinates is a VerifyingKey as decimal coordinate strings, the form
// trusted-setup ceremonies publish. G1 points are [x, y]; G2 points are
// [x0, x1, y0, y1] in tower order.
type KeyCoordinates struct {
	Alpha [2]string    `json:"alpha"`
	Beta  [4]string    `json:"beta"`
	Gamma [4]string    `json:"gamma"`
	Delta [4]string    `json:"delta"`
	IC    [2][2]string `json:"ic"`
}

// Key decodes the coordinates, range-checking each against the base field
// and subgroup before the key can be registered.
func (kc *KeyCoordinates) Key() (*VerifyingKey, error) {
	var vk VerifyingKey
	var err error
	if vk.Alpha, err = g1FromStrings(kc.Alpha); err != nil {
		return nil, fmt.Errorf("verifier: alpha: %w", err)
	}
	if vk.Beta, err = g2FromStrings(kc.Beta); err != nil {
		return nil, fmt.Errorf("verifier: beta: %w", err)
	}
	if vk.Gamma, err = g2FromStrings(kc.Gamma); err != nil {
		return nil, fmt.Errorf("verifier: gamma: %w", err)
	}
	if vk.Delta, err = g2FromStrings(kc.Delta); err != nil {
		return nil, fmt.Errorf("verifier: delta: %w", err)
	}
	for i := range kc.IC {
		if vk.IC[i], err = g1FromStrings(kc.IC[i]); err != nil {
			return nil, fmt.Errorf("verifier: ic[%d]: %w", i, err)
		}
	}
	return &vk, nil
}

func g1FromStrings(coords [2]string) (bn254.G1Affine, error) {
	ints, err := parseCoords(coords[:])
	if err != nil {
		return bn254.G1Affine{}, err
	}
	return G1FromBig(ints[0], ints[1])
}

func g2FromStrings(coords [4]string) (bn254.G2Affine, error) {
	ints, err := parseCoords(coords[:])
	if err != nil {
		return bn254.G2Affine{}, err
	}
	return G2FromBig(ints[0], ints[1], ints[2], ints[3])
}

func parseCoords(coords []string) ([]*big.Int, error) {
	ints := make([]*big.Int, len(coords))
	for i, c := range coords {
		v, ok := new(big.Int).SetString(c, 10)
		if !ok {
			return nil, fmt.Errorf("coordinate %q is not a decimal integer", c)
		}
		ints[i] = v
	}
	return ints, nil
}
