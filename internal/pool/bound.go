// bound.go - Bound transaction parameters.
//
// Everything the proof must pin down beyond roots, nullifiers, and
// commitments is folded into a single scalar: tree number, gas floor,
// unshield mode, adapt lock, and every output ciphertext. The hash is
// Keccak256 over a deterministic serialization, reduced into the scalar
// field, so ciphertext tampering invalidates the proof without the
// public input growing with memo length.

package pool

import (
	"encoding/binary"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/note"
)

// UnshieldMode declares whether and how a transaction withdraws value.
type UnshieldMode uint8

const (
	// UnshieldNone: pure intra-pool transfer, no payout.
	UnshieldNone UnshieldMode = iota
	// UnshieldNormal: the last commitment is withheld and paid out to
	// the declared recipient.
	UnshieldNormal
	// UnshieldOverride: like UnshieldNormal, but the declared recipient
	// may redirect the payout at submission time.
	UnshieldOverride
)

// BoundParams are the non-arithmetic parameters a transact proof commits to.
type BoundParams struct {
	TreeNumber    uint32                    `json:"treeNumber"`
	MinGasPrice   *big.Int                  `json:"minGasPrice"`
	Unshield      UnshieldMode              `json:"unshield"`
	AdaptContract common.Address            `json:"adaptContract"`
	AdaptParams   []byte                    `json:"adaptParams"`
	Ciphertexts   []note.TransferCiphertext `json:"ciphertexts"`
}

// Hash serializes the bound parameters deterministically, hashes with
// Keccak256, and reduces into the scalar field.
func (bp *BoundParams) Hash() fr.Element {
	var buf []byte

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], bp.TreeNumber)
	buf = append(buf, u32[:]...)

	gas := bp.MinGasPrice
	if gas == nil {
		gas = new(big.Int)
	}
	buf = append(buf, gas.FillBytes(make([]byte, 32))...)

	buf = append(buf, byte(bp.Unshield))
	buf = append(buf, bp.AdaptContract.Bytes()...)

	binary.BigEndian.PutUint32(u32[:], uint32(len(bp.AdaptParams)))
	buf = append(buf, u32[:]...)
	buf = append(buf, bp.AdaptParams...)

	binary.BigEndian.PutUint32(u32[:], uint32(len(bp.Ciphertexts)))
	buf = append(buf, u32[:]...)
	for i := range bp.Ciphertexts {
		ct := &bp.Ciphertexts[i]
		buf = append(buf, ct.BlindedSenderKey[:]...)
		buf = append(buf, ct.BlindedReceiverKey[:]...)
		buf = append(buf, ct.Nonce[:]...)
		binary.BigEndian.PutUint32(u32[:], uint32(len(ct.Data)))
		buf = append(buf, u32[:]...)
		buf = append(buf, ct.Data...)
	}

	return field.Reduce(crypto.Keccak256(buf))
}
