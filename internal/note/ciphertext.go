// ciphertext.go - Authenticated note ciphertext bundles.
//
// Shield-path ciphertexts conceal only the note randomness: value and token
// are public for deposits. Transfer-path ciphertexts conceal randomness,
// value, and token identity, and are keyed through the blinded ephemeral
// keys so only the addressed receiver can recompute the shared secret.

package note

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/zkshield/shieldpool/internal/field"
)

var (
	// ErrNotAddressed reports a ciphertext that does not decrypt under the
	// scanning wallet's keys. Scanners treat it as "not mine", not a fault.
	ErrNotAddressed = errors.New("note: ciphertext not addressed to this key")
)

const (
	shieldKeyInfo   = "shieldpool/v1/shield-note"
	transferKeyInfo = "shieldpool/v1/transfer-note"
)

// ShieldCiphertext accompanies a deposit so the receiver can recover the
// note randomness later.
type ShieldCiphertext struct {
	EphemeralKey [32]byte `json:"ephemeralKey"`
	Nonce        [12]byte `json:"nonce"`
	Data         []byte   `json:"data"`
}

// TransferCiphertext accompanies a transfer output commitment.
type TransferCiphertext struct {
	BlindedSenderKey   [32]byte `json:"blindedSenderKey"`
	BlindedReceiverKey [32]byte `json:"blindedReceiverKey"`
	Nonce              [12]byte `json:"nonce"`
	Data               []byte   `json:"data"`
}

// deriveAEAD stretches an X25519 agreement into a ChaCha20-Poly1305 cipher.
func deriveAEAD(shared []byte, info string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("note: key derivation failed: %w", err)
	}
	return chacha20poly1305.New(key)
}

// EncryptShield seals the note randomness to the receiver's viewing key
// using a one-shot ephemeral exchange.
func EncryptShield(receiverViewPub [32]byte, random fr.Element) (*ShieldCiphertext, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("note: ephemeral keygen failed: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("note: ephemeral keygen failed: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv[:], receiverViewPub[:])
	if err != nil {
		return nil, fmt.Errorf("note: shield key agreement failed: %w", err)
	}
	aead, err := deriveAEAD(shared, shieldKeyInfo)
	if err != nil {
		return nil, err
	}
	ct := &ShieldCiphertext{}
	copy(ct.EphemeralKey[:], ephPub)
	if _, err := rand.Read(ct.Nonce[:]); err != nil {
		return nil, fmt.Errorf("note: nonce generation failed: %w", err)
	}
	plaintext := random.Bytes()
	ct.Data = aead.Seal(nil, ct.Nonce[:], plaintext[:], ct.EphemeralKey[:])
	return ct, nil
}

// DecryptShield attempts to recover the note randomness with the scanning
// wallet's viewing key.
func (ct *ShieldCiphertext) DecryptShield(vk *ViewingKey) (fr.Element, error) {
	shared, err := vk.sharedSecret(ct.EphemeralKey)
	if err != nil {
		return fr.Element{}, ErrNotAddressed
	}
	aead, err := deriveAEAD(shared, shieldKeyInfo)
	if err != nil {
		return fr.Element{}, err
	}
	plain, err := aead.Open(nil, ct.Nonce[:], ct.Data, ct.EphemeralKey[:])
	if err != nil || len(plain) != fr.Bytes {
		return fr.Element{}, ErrNotAddressed
	}
	return field.Reduce(plain), nil
}

// EncryptTransfer seals {random, value, tokenID} for the receiver. The note
// randomness doubles as the shared random of the blinding scheme: the
// receiver can re-derive the blinding scalar after decrypting and thereby
// identify the unblinded sender key off-ledger.
func EncryptTransfer(senderView *ViewingKey, receiverViewPub [32]byte, n *Note) (*TransferCiphertext, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	var senderRandom [32]byte
	if _, err := rand.Read(senderRandom[:]); err != nil {
		return nil, fmt.Errorf("note: sender randomness failed: %w", err)
	}
	blindedSender, blindedReceiver, err := BlindKeys(senderView.Public(), receiverViewPub, n.Random.Bytes(), senderRandom)
	if err != nil {
		return nil, err
	}
	shared, err := senderView.sharedSecret(blindedReceiver)
	if err != nil {
		return nil, fmt.Errorf("note: transfer key agreement failed: %w", err)
	}
	aead, err := deriveAEAD(shared, transferKeyInfo)
	if err != nil {
		return nil, err
	}
	tokenID, err := n.Token.ID()
	if err != nil {
		return nil, err
	}
	value, err := field.FromBig(n.Value)
	if err != nil {
		return nil, err
	}
	ct := &TransferCiphertext{
		BlindedSenderKey:   blindedSender,
		BlindedReceiverKey: blindedReceiver,
	}
	if _, err := rand.Read(ct.Nonce[:]); err != nil {
		return nil, fmt.Errorf("note: nonce generation failed: %w", err)
	}
	var plaintext [3 * fr.Bytes]byte
	rb, vb, tb := n.Random.Bytes(), value.Bytes(), tokenID.Bytes()
	copy(plaintext[0:], rb[:])
	copy(plaintext[fr.Bytes:], vb[:])
	copy(plaintext[2*fr.Bytes:], tb[:])
	ad := append(blindedSender[:], blindedReceiver[:]...)
	ct.Data = aead.Seal(nil, ct.Nonce[:], plaintext[:], ad)
	return ct, nil
}

// DecryptTransfer attempts blinded-key recomputation with the scanning
// wallet's viewing key and returns the concealed note fields.
func (ct *TransferCiphertext) DecryptTransfer(vk *ViewingKey) (random fr.Element, value *big.Int, tokenID fr.Element, err error) {
	shared, err := vk.sharedSecret(ct.BlindedSenderKey)
	if err != nil {
		return random, nil, tokenID, ErrNotAddressed
	}
	aead, err := deriveAEAD(shared, transferKeyInfo)
	if err != nil {
		return random, nil, tokenID, err
	}
	ad := append(ct.BlindedSenderKey[:], ct.BlindedReceiverKey[:]...)
	plain, err := aead.Open(nil, ct.Nonce[:], ct.Data, ad)
	if err != nil || len(plain) != 3*fr.Bytes {
		return random, nil, tokenID, ErrNotAddressed
	}
	random = field.Reduce(plain[0:fr.Bytes])
	value = new(big.Int).SetBytes(plain[fr.Bytes : 2*fr.Bytes])
	tokenID = field.Reduce(plain[2*fr.Bytes:])
	return random, value, tokenID, nil
}
