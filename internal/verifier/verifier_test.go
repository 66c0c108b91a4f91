package verifier

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func g1Gen() bn254.G1Affine {
	_, _, g1, _ := bn254.Generators()
	return g1
}

func g2Gen() bn254.G2Affine {
	_, _, _, g2 := bn254.Generators()
	return g2
}

func TestG1FromBig(t *testing.T) {
	g := g1Gen()
	x := g.X.BigInt(new(big.Int))
	y := g.Y.BigInt(new(big.Int))

	p, err := G1FromBig(x, y)
	require.NoError(t, err)
	require.True(t, p.Equal(&g))

	// Coordinate at or above the base field modulus is rejected before
	// any curve arithmetic happens.
	_, err = G1FromBig(fpModulus(), y)
	require.ErrorIs(t, err, ErrOutOfField)

	_, err = G1FromBig(big.NewInt(-1), y)
	require.ErrorIs(t, err, ErrOutOfField)

	// On-field but off-curve.
	_, err = G1FromBig(big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrMalformedPoint)
}

func TestG2FromBig(t *testing.T) {
	g := g2Gen()
	x0 := g.X.A0.BigInt(new(big.Int))
	x1 := g.X.A1.BigInt(new(big.Int))
	y0 := g.Y.A0.BigInt(new(big.Int))
	y1 := g.Y.A1.BigInt(new(big.Int))

	p, err := G2FromBig(x0, x1, y0, y1)
	require.NoError(t, err)
	require.True(t, p.Equal(&g))

	_, err = G2FromBig(fpModulus(), x1, y0, y1)
	require.ErrorIs(t, err, ErrOutOfField)

	_, err = G2FromBig(big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5))
	require.ErrorIs(t, err, ErrMalformedPoint)
}

func TestKeyCoordinatesImport(t *testing.T) {
	g1 := g1Gen()
	g2 := g2Gen()
	g1Coords := [2]string{g1.X.String(), g1.Y.String()}
	g2Coords := [4]string{g2.X.A0.String(), g2.X.A1.String(), g2.Y.A0.String(), g2.Y.A1.String()}

	kc := KeyCoordinates{
		Alpha: g1Coords,
		Beta:  g2Coords,
		Gamma: g2Coords,
		Delta: g2Coords,
		IC:    [2][2]string{g1Coords, g1Coords},
	}
	vk, err := kc.Key()
	require.NoError(t, err)
	require.True(t, vk.Alpha.Equal(&g1))
	require.True(t, vk.Beta.Equal(&g2))
	require.NoError(t, vk.Validate())

	t.Run("out of field", func(t *testing.T) {
		bad := kc
		bad.Alpha[0] = fpModulus().String()
		_, err := bad.Key()
		require.ErrorIs(t, err, ErrOutOfField)
	})

	t.Run("off curve", func(t *testing.T) {
		bad := kc
		bad.IC[1] = [2]string{"1", "1"}
		_, err := bad.Key()
		require.ErrorIs(t, err, ErrMalformedPoint)
	})

	t.Run("not a decimal", func(t *testing.T) {
		bad := kc
		bad.Beta[2] = "0xff"
		_, err := bad.Key()
		require.Error(t, err)
	})
}

func TestProofValidateRejectsIdentity(t *testing.T) {
	var p Proof // all points at infinity
	require.Error(t, p.Validate())
}

func TestRegistryShapeLookup(t *testing.T) {
	r, err := NewRegistry(16)
	require.NoError(t, err)

	_, err = r.Key(1, 2)
	require.ErrorIs(t, err, ErrShapeNotRegistered)

	vk := &VerifyingKey{
		Alpha: g1Gen(),
		Beta:  g2Gen(),
		Gamma: g2Gen(),
		Delta: g2Gen(),
		IC:    [2]bn254.G1Affine{g1Gen(), g1Gen()},
	}
	require.NoError(t, r.Register(1, 2, vk))

	got, err := r.Key(1, 2)
	require.NoError(t, err)
	require.Equal(t, vk, got)

	// Unregistered shapes fail closed even when others exist.
	var input fr.Element
	input.SetUint64(1)
	err = r.Verify(2, 2, &Proof{A: g1Gen(), B: g2Gen(), C: g1Gen()}, input)
	require.ErrorIs(t, err, ErrShapeNotRegistered)
}

func TestRegistryRejectsMalformedKey(t *testing.T) {
	r, err := NewRegistry(16)
	require.NoError(t, err)

	vk := &VerifyingKey{} // identity points everywhere
	require.Error(t, r.Register(1, 1, vk))
}

func TestVerifyRejectsRandomProof(t *testing.T) {
	vk := &VerifyingKey{
		Alpha: g1Gen(),
		Beta:  g2Gen(),
		Gamma: g2Gen(),
		Delta: g2Gen(),
		IC:    [2]bn254.G1Affine{g1Gen(), g1Gen()},
	}
	proof := &Proof{A: g1Gen(), B: g2Gen(), C: g1Gen()}

	var input fr.Element
	input.SetUint64(42)
	err := Verify(vk, proof, input)
	require.ErrorIs(t, err, ErrProofInvalid)
}

func fpModulus() *big.Int {
	m, _ := new(big.Int).SetString("21888242871839275222246405745257275088696311157297823662689037894645226208583", 10)
	return m
}
