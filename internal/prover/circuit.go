// circuit.go - Constraint system for shielded transfers.
//
// One circuit instance exists per transaction shape (input count, output
// count). The sole public input is the folded transaction hash; everything
// else — root, bound-parameters hash, note openings, Merkle paths — is
// private witness bound to that hash inside the circuit.

package prover

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/signature/eddsa"
)

// valueBits bounds each note value so the conservation sum cannot wrap.
const valueBits = 120

// TransferCircuit proves, for a fixed shape:
//   - every input note's commitment is present under the claimed root,
//   - every nullifier is correctly derived from the nullifying key and
//     the note's leaf position,
//   - every output commitment is correctly formed,
//   - input and output values balance for the (single) token,
//   - the public hash folds root, bound-parameters hash, nullifiers and
//     commitments exactly as the validator re-derives it,
//   - the spending key whose public point anchors the master public key
//     signed that same public hash.
type TransferCircuit struct {
	PublicHash frontend.Variable `gnark:",public"`

	MerkleRoot      frontend.Variable
	BoundParamsHash frontend.Variable
	TokenID         frontend.Variable
	SpendPublicKey  eddsa.PublicKey
	Signature       eddsa.Signature
	NullifyingKey   frontend.Variable

	InputValues   []frontend.Variable
	InputRandoms  []frontend.Variable
	InputIndices  []frontend.Variable
	InputSiblings [][]frontend.Variable

	Nullifiers []frontend.Variable

	OutputNpks        []frontend.Variable
	OutputValues      []frontend.Variable
	OutputCommitments []frontend.Variable
}

// NewTransferCircuit allocates the witness slices for a shape so the same
// template serves compilation and assignment.
func NewTransferCircuit(inputs, outputs, depth int) *TransferCircuit {
	c := &TransferCircuit{
		InputValues:       make([]frontend.Variable, inputs),
		InputRandoms:      make([]frontend.Variable, inputs),
		InputIndices:      make([]frontend.Variable, inputs),
		InputSiblings:     make([][]frontend.Variable, inputs),
		Nullifiers:        make([]frontend.Variable, inputs),
		OutputNpks:        make([]frontend.Variable, outputs),
		OutputValues:      make([]frontend.Variable, outputs),
		OutputCommitments: make([]frontend.Variable, outputs),
	}
	for i := range c.InputSiblings {
		c.InputSiblings[i] = make([]frontend.Variable, depth)
	}
	return c
}

func (c *TransferCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hash := func(vars ...frontend.Variable) frontend.Variable {
		hasher.Reset()
		hasher.Write(vars...)
		return hasher.Sum()
	}

	// masterPublicKey = H(spendPubKey, nullifyingKey); shared by all inputs.
	mpk := hash(c.SpendPublicKey.A.X, c.SpendPublicKey.A.Y, c.NullifyingKey)

	inSum := frontend.Variable(0)
	for i := range c.InputValues {
		api.ToBinary(c.InputValues[i], valueBits)

		npk := hash(mpk, c.InputRandoms[i])
		commitment := hash(npk, c.TokenID, c.InputValues[i])

		// Fold the commitment up to the root along the claimed path.
		indexBits := api.ToBinary(c.InputIndices[i], len(c.InputSiblings[i]))
		current := commitment
		for level, sibling := range c.InputSiblings[i] {
			left := api.Select(indexBits[level], sibling, current)
			right := api.Select(indexBits[level], current, sibling)
			current = hash(left, right)
		}
		api.AssertIsEqual(current, c.MerkleRoot)

		api.AssertIsEqual(c.Nullifiers[i], hash(c.NullifyingKey, c.InputIndices[i]))

		inSum = api.Add(inSum, c.InputValues[i])
	}

	outSum := frontend.Variable(0)
	for j := range c.OutputValues {
		api.ToBinary(c.OutputValues[j], valueBits)
		api.AssertIsEqual(c.OutputCommitments[j], hash(c.OutputNpks[j], c.TokenID, c.OutputValues[j]))
		outSum = api.Add(outSum, c.OutputValues[j])
	}

	// Conservation of value for the transacted token.
	api.AssertIsEqual(inSum, outSum)

	// Single folded public input.
	folded := append([]frontend.Variable{c.MerkleRoot, c.BoundParamsHash}, c.Nullifiers...)
	folded = append(folded, c.OutputCommitments...)
	api.AssertIsEqual(c.PublicHash, hash(folded...))

	// Spend authorization: the key folded into mpk above must have signed
	// the public hash. Same key, so viewing authority alone cannot spend.
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	sigHasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	return eddsa.Verify(curve, c.Signature, c.PublicHash, c.SpendPublicKey, &sigHasher)
}
