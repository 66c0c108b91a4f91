// prover.go - In-process Groth16 proving backend.
//
// Production deployments point the wallet at an external proving artifact;
// this backend implements the same contract in-process so the demo and the
// test suite exercise real pairing proofs end to end. Setup runs lazily per
// transaction shape and the resulting verifying keys export directly into
// the on-ledger registry's form.

package prover

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/verifier"
)

// InputWitness opens one spent note.
type InputWitness struct {
	Value     *big.Int
	Random    fr.Element
	LeafIndex uint64
	Siblings  []fr.Element
	Nullifier fr.Element
}

// OutputWitness opens one created note.
type OutputWitness struct {
	Npk        fr.Element
	Value      *big.Int
	Commitment fr.Element
}

// Witness is everything the backend needs to produce a proof for one
// transaction: note openings, Merkle paths, and the owner's spend
// authorization over the folded transaction hash.
type Witness struct {
	MerkleRoot      fr.Element
	BoundParamsHash fr.Element
	TokenID         fr.Element
	SpendPublicKey  *eddsa.PublicKey
	NullifyingKey   fr.Element
	Signature       []byte
	Inputs          []InputWitness
	Outputs         []OutputWitness
}

// PublicHash folds the witness the same way the validator re-derives it.
func (w *Witness) PublicHash() fr.Element {
	elems := []fr.Element{w.MerkleRoot, w.BoundParamsHash}
	for _, in := range w.Inputs {
		elems = append(elems, in.Nullifier)
	}
	for _, out := range w.Outputs {
		elems = append(elems, out.Commitment)
	}
	return field.Hash(elems...)
}

// sizeSignature is the encoded length of an EdDSA signature (R ‖ S).
const sizeSignature = 64

type shapeKey struct{ inputs, outputs int }

type shapeArtifacts struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Backend compiles, sets up, and proves the transfer circuit per shape.
type Backend struct {
	depth  int
	logger zerolog.Logger

	mu     sync.Mutex
	shapes map[shapeKey]*shapeArtifacts
}

// NewBackend creates a backend for trees of the given depth.
func NewBackend(depth int, logger zerolog.Logger) *Backend {
	return &Backend{
		depth:  depth,
		logger: logger.With().Str("component", "prover").Logger(),
		shapes: make(map[shapeKey]*shapeArtifacts),
	}
}

// setup compiles and runs the trusted setup for a shape once.
func (b *Backend) setup(inputs, outputs int) (*shapeArtifacts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := shapeKey{inputs, outputs}
	if art, ok := b.shapes[key]; ok {
		return art, nil
	}
	b.logger.Info().Int("inputs", inputs).Int("outputs", outputs).Msg("compiling transfer circuit")
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewTransferCircuit(inputs, outputs, b.depth))
	if err != nil {
		return nil, fmt.Errorf("prover: circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("prover: setup failed: %w", err)
	}
	art := &shapeArtifacts{ccs: ccs, pk: pk, vk: vk}
	b.shapes[key] = art
	return art, nil
}

// VerifyingKey exports the shape's trusted-setup key in registry form.
func (b *Backend) VerifyingKey(inputs, outputs int) (*verifier.VerifyingKey, error) {
	art, err := b.setup(inputs, outputs)
	if err != nil {
		return nil, err
	}
	return exportVerifyingKey(art.vk)
}

// Prove assigns the circuit and returns the proof together with the folded
// public input. The spend authorization is checked up front for a fast
// failure, and again by the constraint system itself: a witness carrying a
// signature from any other key cannot satisfy the circuit.
func (b *Backend) Prove(w *Witness) (*verifier.Proof, fr.Element, error) {
	publicHash := w.PublicHash()

	if w.SpendPublicKey == nil {
		return nil, fr.Element{}, fmt.Errorf("prover: missing spend public key")
	}
	ok, err := note.VerifySignature(w.SpendPublicKey, publicHash, w.Signature)
	if err != nil || !ok {
		return nil, fr.Element{}, fmt.Errorf("prover: spend authorization rejected")
	}

	art, err := b.setup(len(w.Inputs), len(w.Outputs))
	if err != nil {
		return nil, fr.Element{}, err
	}

	assignment, err := b.assign(w, publicHash)
	if err != nil {
		return nil, fr.Element{}, err
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fr.Element{}, fmt.Errorf("prover: witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(art.ccs, art.pk, fullWitness)
	if err != nil {
		return nil, fr.Element{}, fmt.Errorf("prover: proof generation failed: %w", err)
	}
	out, err := exportProof(proof)
	if err != nil {
		return nil, fr.Element{}, err
	}
	return out, publicHash, nil
}

func (b *Backend) assign(w *Witness, publicHash fr.Element) (*TransferCircuit, error) {
	c := NewTransferCircuit(len(w.Inputs), len(w.Outputs), b.depth)
	c.PublicHash = field.ToBig(publicHash)
	c.MerkleRoot = field.ToBig(w.MerkleRoot)
	c.BoundParamsHash = field.ToBig(w.BoundParamsHash)
	c.TokenID = field.ToBig(w.TokenID)
	c.SpendPublicKey.Assign(tedwards.BN254, w.SpendPublicKey.Bytes())
	if len(w.Signature) != sizeSignature {
		return nil, fmt.Errorf("prover: signature is %d bytes, want %d", len(w.Signature), sizeSignature)
	}
	c.Signature.Assign(tedwards.BN254, w.Signature)
	c.NullifyingKey = field.ToBig(w.NullifyingKey)

	for i, in := range w.Inputs {
		if len(in.Siblings) != b.depth {
			return nil, fmt.Errorf("prover: input %d: path length %d, want %d", i, len(in.Siblings), b.depth)
		}
		c.InputValues[i] = in.Value
		c.InputRandoms[i] = field.ToBig(in.Random)
		c.InputIndices[i] = in.LeafIndex
		for l, sib := range in.Siblings {
			c.InputSiblings[i][l] = field.ToBig(sib)
		}
		c.Nullifiers[i] = field.ToBig(in.Nullifier)
	}
	for j, out := range w.Outputs {
		c.OutputNpks[j] = field.ToBig(out.Npk)
		c.OutputValues[j] = out.Value
		c.OutputCommitments[j] = field.ToBig(out.Commitment)
	}
	return c, nil
}

// exportVerifyingKey converts gnark's BN254 key into the registry's
// fixed two-term form.
func exportVerifyingKey(vk groth16.VerifyingKey) (*verifier.VerifyingKey, error) {
	concrete, ok := vk.(*groth16bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("prover: unexpected verifying key type %T", vk)
	}
	if len(concrete.G1.K) != 2 {
		return nil, fmt.Errorf("prover: expected 1 public input, key has %d", len(concrete.G1.K)-1)
	}
	return &verifier.VerifyingKey{
		Alpha: concrete.G1.Alpha,
		Beta:  concrete.G2.Beta,
		Gamma: concrete.G2.Gamma,
		Delta: concrete.G2.Delta,
		IC:    [2]bn254.G1Affine{concrete.G1.K[0], concrete.G1.K[1]},
	}, nil
}

func exportProof(proof groth16.Proof) (*verifier.Proof, error) {
	concrete, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("prover: unexpected proof type %T", proof)
	}
	return &verifier.Proof{
		A: concrete.Ar,
		B: concrete.Bs,
		C: concrete.Krs,
	}, nil
}
