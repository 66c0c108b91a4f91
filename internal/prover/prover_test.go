package prover

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/merkle"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/verifier"
)

const testDepth = 4

// buildWitness shields one note into a fresh tree and opens it for spending
// into two outputs (payment + change).
func buildWitness(t *testing.T) (*Witness, *note.SpendingKey) {
	t.Helper()

	spend, err := note.GenerateSpendingKey()
	require.NoError(t, err)
	view, err := note.GenerateViewingKey()
	require.NoError(t, err)
	mpk := note.MasterPublicKey(spend, view)

	token := note.TokenData{Kind: note.Fungible}
	tokenID, err := token.ID()
	require.NoError(t, err)

	in, err := note.NewNote(mpk, big.NewInt(100), token)
	require.NoError(t, err)
	inCommitment, err := in.Commitment()
	require.NoError(t, err)

	tree := merkle.NewTree(testDepth, 0)
	root, err := tree.Insert([]fr.Element{inCommitment})
	require.NoError(t, err)
	path, err := tree.GenerateProof(0)
	require.NoError(t, err)

	nk := view.NullifyingKey()

	outValues := []*big.Int{big.NewInt(60), big.NewInt(40)}
	outputs := make([]OutputWitness, len(outValues))
	for j, v := range outValues {
		n, err := note.NewNote(mpk, v, token)
		require.NoError(t, err)
		cm, err := n.Commitment()
		require.NoError(t, err)
		outputs[j] = OutputWitness{Npk: n.NotePublicKey(), Value: v, Commitment: cm}
	}

	w := &Witness{
		MerkleRoot:      root,
		BoundParamsHash: field.FromUint64(777),
		TokenID:         tokenID,
		SpendPublicKey:  spend.Public(),
		NullifyingKey:   nk,
		Inputs: []InputWitness{{
			Value:     in.Value,
			Random:    in.Random,
			LeafIndex: 0,
			Siblings:  path.Siblings,
			Nullifier: note.Nullifier(nk, 0),
		}},
		Outputs: outputs,
	}
	sig, err := spend.Sign(w.PublicHash())
	require.NoError(t, err)
	w.Signature = sig
	return w, spend
}

func TestProveAndVerify(t *testing.T) {
	backend := NewBackend(testDepth, zerolog.Nop())
	w, _ := buildWitness(t)

	proof, publicHash, err := backend.Prove(w)
	require.NoError(t, err)
	want := w.PublicHash()
	require.True(t, publicHash.Equal(&want))

	vk, err := backend.VerifyingKey(1, 2)
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(vk, proof, publicHash))

	// Any divergence in the re-derived public input must fail the pairing.
	var other fr.Element
	other.SetUint64(1)
	other.Add(&other, &publicHash)
	err = verifier.Verify(vk, proof, other)
	require.ErrorIs(t, err, verifier.ErrProofInvalid)
}

func TestRejectsBadAuthorization(t *testing.T) {
	backend := NewBackend(testDepth, zerolog.Nop())
	w, _ := buildWitness(t)

	intruder, err := note.GenerateSpendingKey()
	require.NoError(t, err)
	sig, err := intruder.Sign(w.PublicHash())
	require.NoError(t, err)
	w.Signature = sig

	_, _, err = backend.Prove(w)
	require.Error(t, err)
}

// TestCircuitEnforcesSpendAuthorization drives the constraint system
// directly, the way a hostile prover that skips Backend.Prove's own
// signature check would: a signature from any key other than the one
// folded into the master public key must make the witness unsatisfiable.
func TestCircuitEnforcesSpendAuthorization(t *testing.T) {
	backend := NewBackend(testDepth, zerolog.Nop())
	w, _ := buildWitness(t)

	intruder, err := note.GenerateSpendingKey()
	require.NoError(t, err)
	forged, err := intruder.Sign(w.PublicHash())
	require.NoError(t, err)
	w.Signature = forged

	art, err := backend.setup(len(w.Inputs), len(w.Outputs))
	require.NoError(t, err)
	assignment, err := backend.assign(w, w.PublicHash())
	require.NoError(t, err)
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	require.NoError(t, err)
	_, err = groth16.Prove(art.ccs, art.pk, fullWitness)
	require.Error(t, err)
}

func TestRejectsUnbalancedValues(t *testing.T) {
	backend := NewBackend(testDepth, zerolog.Nop())
	w, spend := buildWitness(t)

	// Inflate one output: value conservation must make proving impossible.
	w.Outputs[0].Value = big.NewInt(61)
	inflated, err := field.FromBig(w.Outputs[0].Value)
	require.NoError(t, err)
	w.Outputs[0].Commitment = note.CommitmentFromParts(w.Outputs[0].Npk, w.TokenID, inflated)
	sig, err := spend.Sign(w.PublicHash())
	require.NoError(t, err)
	w.Signature = sig

	_, _, err = backend.Prove(w)
	require.Error(t, err)
}
