// keys.go - Spending and viewing keys for the shielded pool.
//
// Spending authority and viewing authority are deliberately separate secrets:
// a viewing-only party can scan for incoming notes and detect spends through
// the nullifying key without ever being able to authorize a spend. Spend
// authorization uses EdDSA over the BN254 twisted Edwards curve so the proof
// circuit can verify the same signature; viewing keys live on Curve25519 so
// note encryption composes with the key-blinding scheme.

package note

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"golang.org/x/crypto/curve25519"

	"github.com/zkshield/shieldpool/internal/field"
)

// SpendingKey authorizes spends. Its public point is half of the master
// public key preimage.
type SpendingKey struct {
	priv *eddsa.PrivateKey
}

// GenerateSpendingKey draws a fresh EdDSA keypair.
func GenerateSpendingKey() (*SpendingKey, error) {
	priv, err := eddsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("note: spending keygen failed: %w", err)
	}
	return &SpendingKey{priv: priv}, nil
}

// PublicKey returns the affine coordinates of the spending public point.
func (k *SpendingKey) PublicKey() (fr.Element, fr.Element) {
	return k.priv.PublicKey.A.X, k.priv.PublicKey.A.Y
}

// Sign signs a field-element digest with MiMC as the challenge hash.
func (k *SpendingKey) Sign(digest fr.Element) ([]byte, error) {
	msg := digest.Bytes()
	sig, err := k.priv.Sign(msg[:], mimc.NewMiMC())
	if err != nil {
		return nil, fmt.Errorf("note: signing failed: %w", err)
	}
	return sig, nil
}

// VerifySignature checks a spend-authorization signature against a public point.
func VerifySignature(pub *eddsa.PublicKey, digest fr.Element, sig []byte) (bool, error) {
	msg := digest.Bytes()
	return pub.Verify(sig, msg[:], mimc.NewMiMC())
}

// Public returns the underlying EdDSA public key for witness assembly.
func (k *SpendingKey) Public() *eddsa.PublicKey {
	return &k.priv.PublicKey
}

// Bytes returns the private key encoding for wallet persistence.
func (k *SpendingKey) Bytes() []byte {
	return k.priv.Bytes()
}

// SpendingKeyFromBytes restores a spending key written by Bytes.
func SpendingKeyFromBytes(b []byte) (*SpendingKey, error) {
	priv := new(eddsa.PrivateKey)
	if _, err := priv.SetBytes(b); err != nil {
		return nil, fmt.Errorf("note: invalid spending key: %w", err)
	}
	return &SpendingKey{priv: priv}, nil
}

// ViewingKey detects and decrypts incoming notes. The scalar doubles as the
// preimage of the nullifying key.
type ViewingKey struct {
	priv [32]byte
	pub  [32]byte
}

// GenerateViewingKey draws a fresh X25519 keypair.
func GenerateViewingKey() (*ViewingKey, error) {
	var vk ViewingKey
	if _, err := rand.Read(vk.priv[:]); err != nil {
		return nil, fmt.Errorf("note: viewing keygen failed: %w", err)
	}
	pub, err := curve25519.X25519(vk.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("note: viewing keygen failed: %w", err)
	}
	copy(vk.pub[:], pub)
	return &vk, nil
}

// ViewingKeyFromBytes restores a viewing key from its private scalar.
func ViewingKeyFromBytes(priv [32]byte) (*ViewingKey, error) {
	vk := ViewingKey{priv: priv}
	pub, err := curve25519.X25519(vk.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("note: invalid viewing scalar: %w", err)
	}
	copy(vk.pub[:], pub)
	return &vk, nil
}

// Public returns the viewing public key.
func (k *ViewingKey) Public() [32]byte {
	return k.pub
}

// Bytes returns the private scalar for wallet persistence.
func (k *ViewingKey) Bytes() [32]byte {
	return k.priv
}

// NullifyingKey derives the spend-detection secret from the viewing key.
func (k *ViewingKey) NullifyingKey() fr.Element {
	return field.Hash(field.Reduce(k.priv[:]))
}

// sharedSecret computes this key's X25519 agreement with a peer point.
func (k *ViewingKey) sharedSecret(peer [32]byte) ([]byte, error) {
	return curve25519.X25519(k.priv[:], peer[:])
}

// MasterPublicKey folds the spending public point and the nullifying key into
// the single value receivers hand out as their shielded address.
func MasterPublicKey(spend *SpendingKey, view *ViewingKey) fr.Element {
	ax, ay := spend.PublicKey()
	return field.Hash(ax, ay, view.NullifyingKey())
}

// BlindingScalar maps the XOR of the shared and sender-only randomness to a
// Curve25519 scalar. X25519 clamps the scalar internally, so any 32-byte
// digest is acceptable here.
func BlindingScalar(sharedRandom, senderRandom [32]byte) [32]byte {
	var seed [32]byte
	for i := range seed {
		seed[i] = sharedRandom[i] ^ senderRandom[i]
	}
	return sha256.Sum256(seed[:])
}

// BlindKeys derives the per-transaction ephemeral keys published with a
// transfer ciphertext. The receiver recomputes the note-encryption secret
// from the blinded sender key and their own viewing scalar; the unblinded
// sender key never appears on the ledger.
func BlindKeys(senderPub, receiverPub [32]byte, sharedRandom, senderRandom [32]byte) (blindedSender, blindedReceiver [32]byte, err error) {
	scalar := BlindingScalar(sharedRandom, senderRandom)
	s, err := curve25519.X25519(scalar[:], senderPub[:])
	if err != nil {
		return blindedSender, blindedReceiver, fmt.Errorf("note: sender key blinding failed: %w", err)
	}
	r, err := curve25519.X25519(scalar[:], receiverPub[:])
	if err != nil {
		return blindedSender, blindedReceiver, fmt.Errorf("note: receiver key blinding failed: %w", err)
	}
	copy(blindedSender[:], s)
	copy(blindedReceiver[:], r)
	return blindedSender, blindedReceiver, nil
}
