// note.go - Shielded note type and its on-ledger derivations.
//
// A note is owned by whoever holds its spending and viewing keys. The only
// on-ledger trace of a note is its commitment; spending it publishes a
// nullifier bound to the note's leaf position and the owner's nullifying key.

package note

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkshield/shieldpool/internal/field"
)

// Note is the private form of a shielded value.
type Note struct {
	MasterPublicKey fr.Element `json:"masterPublicKey"`
	Random          fr.Element `json:"random"`
	Value           *big.Int   `json:"value"`
	Token           TokenData  `json:"token"`
}

// NewNote builds a note addressed to a master public key with fresh randomness.
func NewNote(mpk fr.Element, value *big.Int, token TokenData) (*Note, error) {
	n := &Note{
		MasterPublicKey: mpk,
		Random:          field.Random(),
		Value:           new(big.Int).Set(value),
		Token:           token,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate range-checks every scalar the note contributes to a hash.
func (n *Note) Validate() error {
	if n.Value == nil || n.Value.Sign() < 0 || n.Value.Cmp(fr.Modulus()) >= 0 {
		return fmt.Errorf("note: value out of field range")
	}
	return n.Token.Validate()
}

// NotePublicKey derives npk = H(masterPublicKey, random). The per-note
// randomness keeps commitments to the same owner unlinkable.
func (n *Note) NotePublicKey() fr.Element {
	return field.Hash(n.MasterPublicKey, n.Random)
}

// Commitment derives the leaf hash inserted into the accumulator.
func (n *Note) Commitment() (fr.Element, error) {
	if err := n.Validate(); err != nil {
		return fr.Element{}, err
	}
	tokenID, err := n.Token.ID()
	if err != nil {
		return fr.Element{}, err
	}
	value, err := field.FromBig(n.Value)
	if err != nil {
		return fr.Element{}, err
	}
	return field.Hash(n.NotePublicKey(), tokenID, value), nil
}

// CommitmentFromParts recomputes a commitment from already-derived scalars.
// Used by the validator, which sees npk/tokenID/value but never the note.
func CommitmentFromParts(npk, tokenID, value fr.Element) fr.Element {
	return field.Hash(npk, tokenID, value)
}

// Nullifier derives the one-time spend tag for the note at leafIndex.
// It binds a spender-only secret to a unique tree position, so it reveals
// nothing about value or token while preventing any second spend.
func Nullifier(nullifyingKey fr.Element, leafIndex uint64) fr.Element {
	return field.Hash(nullifyingKey, field.FromUint64(leafIndex))
}
