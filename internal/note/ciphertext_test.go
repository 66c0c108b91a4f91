package note

import (
	"errors"
	"math/big"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/zkshield/shieldpool/internal/field"
)

func TestKeyBlindingSharedSecret(t *testing.T) {
	_, sender := testKeys(t)
	_, receiver := testKeys(t)

	var sharedRandom, senderRandom [32]byte
	copy(sharedRandom[:], field.RandomBytes(32))
	copy(senderRandom[:], field.RandomBytes(32))

	blindedSender, blindedReceiver, err := BlindKeys(sender.Public(), receiver.Public(), sharedRandom, senderRandom)
	if err != nil {
		t.Fatalf("BlindKeys failed: %v", err)
	}

	// Sender side: own scalar against the blinded receiver key.
	senderSecret, err := sender.sharedSecret(blindedReceiver)
	if err != nil {
		t.Fatalf("sender agreement failed: %v", err)
	}
	// Receiver side: own scalar against the blinded sender key, without
	// ever seeing the blinding scalar.
	receiverSecret, err := receiver.sharedSecret(blindedSender)
	if err != nil {
		t.Fatalf("receiver agreement failed: %v", err)
	}
	if string(senderSecret) != string(receiverSecret) {
		t.Error("blinded key exchange did not converge on a shared secret")
	}

	// The receiver can reconstruct the unblinded sender key once it knows
	// both randomness values.
	scalar := BlindingScalar(sharedRandom, senderRandom)
	senderPub := sender.Public()
	reblinded, err := curve25519.X25519(scalar[:], senderPub[:])
	if err != nil {
		t.Fatalf("reblinding failed: %v", err)
	}
	if string(reblinded) != string(blindedSender[:]) {
		t.Error("blinding scalar does not reproduce the published sender key")
	}
}

func TestShieldCiphertextRoundTrip(t *testing.T) {
	_, receiver := testKeys(t)
	random := field.Random()

	ct, err := EncryptShield(receiver.Public(), random)
	if err != nil {
		t.Fatalf("EncryptShield failed: %v", err)
	}
	got, err := ct.DecryptShield(receiver)
	if err != nil {
		t.Fatalf("DecryptShield failed: %v", err)
	}
	if !got.Equal(&random) {
		t.Error("decrypted randomness mismatch")
	}

	_, stranger := testKeys(t)
	if _, err := ct.DecryptShield(stranger); !errors.Is(err, ErrNotAddressed) {
		t.Errorf("expected ErrNotAddressed for foreign key, got %v", err)
	}
}

func TestTransferCiphertextRoundTrip(t *testing.T) {
	senderSpend, senderView := testKeys(t)
	receiverSpend, receiverView := testKeys(t)
	_ = senderSpend

	mpk := MasterPublicKey(receiverSpend, receiverView)
	n, err := NewNote(mpk, big.NewInt(777), testToken())
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}

	ct, err := EncryptTransfer(senderView, receiverView.Public(), n)
	if err != nil {
		t.Fatalf("EncryptTransfer failed: %v", err)
	}

	random, value, tokenID, err := ct.DecryptTransfer(receiverView)
	if err != nil {
		t.Fatalf("DecryptTransfer failed: %v", err)
	}
	if !random.Equal(&n.Random) {
		t.Error("decrypted randomness mismatch")
	}
	if value.Cmp(n.Value) != 0 {
		t.Errorf("decrypted value mismatch: got %s want %s", value, n.Value)
	}
	wantToken, _ := n.Token.ID()
	if !tokenID.Equal(&wantToken) {
		t.Error("decrypted token ID mismatch")
	}

	_, stranger := testKeys(t)
	if _, _, _, err := ct.DecryptTransfer(stranger); !errors.Is(err, ErrNotAddressed) {
		t.Errorf("expected ErrNotAddressed for foreign key, got %v", err)
	}

	// Tampering with the ciphertext must break authentication.
	ct.Data[0] ^= 0x01
	if _, _, _, err := ct.DecryptTransfer(receiverView); err == nil {
		t.Error("tampered ciphertext decrypted successfully")
	}
}
