// prove.go - Turning a transfer intent into a submission-ready transaction.

package wallet

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/prover"
	"github.com/zkshield/shieldpool/internal/verifier"
)

// ProvingBackend turns a witness into a proof. The in-process gnark backend
// implements it; a remote proving service would satisfy the same interface.
type ProvingBackend interface {
	Prove(w *prover.Witness) (*verifier.Proof, fr.Element, error)
}

// Recipient is a shielded address: the master public key notes are bound to
// and the viewing key ciphertexts are sealed to.
type Recipient struct {
	MasterPublicKey fr.Element
	ViewingKey      [32]byte
}

// Send pays one shielded recipient.
type Send struct {
	To    Recipient
	Value *big.Int
}

// UnshieldSpec withdraws value to a plaintext address as the transfer's
// last output.
type UnshieldSpec struct {
	Recipient     common.Address
	Value         *big.Int
	AllowOverride bool
	Override      *common.Address
}

// TransferSpec is everything a caller states about an intended transfer;
// the wallet supplies notes, proofs, and change.
type TransferSpec struct {
	Token         note.TokenData
	Sends         []Send
	Unshield      *UnshieldSpec
	MinGasPrice   *big.Int
	AdaptContract common.Address
	AdaptParams   []byte
}

// BuildTransactRequest selects unspent notes covering the requested
// transfer, proves the
// spend, and returns a transaction ready for pool submission. Change goes
// back to this wallet. Inputs are drawn from a single tree; the proof is
// built against that tree's current locally-tracked root, which remains
// valid at the pool for as long as the root stays in history.
func (w *Wallet) BuildTransactRequest(backend ProvingBackend, spec *TransferSpec) (*pool.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tokenID, err := spec.Token.ID()
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	total := new(big.Int)
	for _, s := range spec.Sends {
		if s.Value == nil || s.Value.Sign() < 0 {
			return nil, fmt.Errorf("wallet: negative send value")
		}
		total.Add(total, s.Value)
	}
	if spec.Unshield != nil {
		if spec.Unshield.Value == nil || spec.Unshield.Value.Sign() <= 0 {
			return nil, fmt.Errorf("wallet: unshield value must be positive")
		}
		total.Add(total, spec.Unshield.Value)
	}

	inputs, treeNumber, err := w.selectInputs(tokenID, total)
	if err != nil {
		return nil, err
	}
	covered := new(big.Int)
	for _, sn := range inputs {
		covered.Add(covered, sn.Note.Value)
	}
	change := new(big.Int).Sub(covered, total)

	// Assemble outputs: sends, optional change back to self, and the
	// withheld unshield output last.
	type out struct {
		npk        fr.Element
		value      *big.Int
		commitment fr.Element
		ciphertext *note.TransferCiphertext
	}
	var outs []out
	addNote := func(mpk fr.Element, viewPub [32]byte, value *big.Int) error {
		n, err := note.NewNote(mpk, value, spec.Token)
		if err != nil {
			return err
		}
		cm, err := n.Commitment()
		if err != nil {
			return err
		}
		ct, err := note.EncryptTransfer(w.view, viewPub, n)
		if err != nil {
			return err
		}
		outs = append(outs, out{npk: n.NotePublicKey(), value: n.Value, commitment: cm, ciphertext: ct})
		return nil
	}
	for _, s := range spec.Sends {
		if err := addNote(s.To.MasterPublicKey, s.To.ViewingKey, s.Value); err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
	}
	if change.Sign() > 0 {
		if err := addNote(w.mpk, w.view.Public(), change); err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
	}
	mode := pool.UnshieldNone
	var unshieldPre *pool.UnshieldPreimage
	var override *common.Address
	if u := spec.Unshield; u != nil {
		mode = pool.UnshieldNormal
		if u.AllowOverride {
			mode = pool.UnshieldOverride
			override = u.Override
		}
		valueFr, err := field.FromBig(u.Value)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		npk := field.FromAddress(u.Recipient)
		outs = append(outs, out{
			npk:        npk,
			value:      u.Value,
			commitment: note.CommitmentFromParts(npk, tokenID, valueFr),
		})
		unshieldPre = &pool.UnshieldPreimage{Recipient: u.Recipient, Token: spec.Token, Value: u.Value}
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("wallet: transfer has no outputs")
	}

	var ciphertexts []note.TransferCiphertext
	for _, o := range outs {
		if o.ciphertext != nil {
			ciphertexts = append(ciphertexts, *o.ciphertext)
		}
	}
	bound := pool.BoundParams{
		TreeNumber:    treeNumber,
		MinGasPrice:   spec.MinGasPrice,
		Unshield:      mode,
		AdaptContract: spec.AdaptContract,
		AdaptParams:   spec.AdaptParams,
		Ciphertexts:   ciphertexts,
	}

	tree := w.trees[treeNumber]
	nk := w.view.NullifyingKey()
	witness := &prover.Witness{
		MerkleRoot:      tree.Root(),
		BoundParamsHash: bound.Hash(),
		TokenID:         tokenID,
		SpendPublicKey:  w.spend.Public(),
		NullifyingKey:   nk,
	}
	for _, sn := range inputs {
		path, err := tree.GenerateProof(sn.Position.LeafIndex)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		witness.Inputs = append(witness.Inputs, prover.InputWitness{
			Value:     sn.Note.Value,
			Random:    sn.Note.Random,
			LeafIndex: sn.Position.LeafIndex,
			Siblings:  path.Siblings,
			Nullifier: sn.Nullifier,
		})
	}
	for _, o := range outs {
		witness.Outputs = append(witness.Outputs, prover.OutputWitness{
			Npk:        o.npk,
			Value:      o.value,
			Commitment: o.commitment,
		})
	}
	sig, err := w.spend.Sign(witness.PublicHash())
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	witness.Signature = sig

	proof, _, err := backend.Prove(witness)
	if err != nil {
		return nil, fmt.Errorf("wallet: proving failed: %w", err)
	}

	nullifiers := make([]fr.Element, len(witness.Inputs))
	for i := range witness.Inputs {
		nullifiers[i] = witness.Inputs[i].Nullifier
	}
	commitments := make([]fr.Element, len(witness.Outputs))
	for i := range witness.Outputs {
		commitments[i] = witness.Outputs[i].Commitment
	}
	w.log.Info().
		Uint32("tree", treeNumber).
		Int("inputs", len(nullifiers)).
		Int("outputs", len(commitments)).
		Bool("unshield", unshieldPre != nil).
		Msg("transact request built")
	return &pool.Transaction{
		Proof:       *proof,
		MerkleRoot:  tree.Root(),
		Nullifiers:  nullifiers,
		Commitments: commitments,
		Bound:       bound,
		Unshield:    unshieldPre,
		Override:    override,
	}, nil
}

// selectInputs picks unspent notes oldest-first from the first tree whose
// spendable balance covers the total. Caller holds w.mu.
func (w *Wallet) selectInputs(tokenID fr.Element, total *big.Int) ([]*StoredNote, uint32, error) {
	for _, treeNumber := range w.treeNumbers() {
		candidates := w.spendable(tokenID, treeNumber)
		sum := new(big.Int)
		var picked []*StoredNote
		for _, sn := range candidates {
			picked = append(picked, sn)
			sum.Add(sum, sn.Note.Value)
			if sum.Cmp(total) >= 0 {
				return picked, treeNumber, nil
			}
		}
	}
	return nil, 0, ErrInsufficientBalance
}
