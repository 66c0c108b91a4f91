package note

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zkshield/shieldpool/internal/field"
)

func testToken() TokenData {
	return TokenData{Kind: Fungible, Address: common.HexToAddress("0x00112233445566778899aabbccddeeff00112233")}
}

func testKeys(t *testing.T) (*SpendingKey, *ViewingKey) {
	t.Helper()
	spend, err := GenerateSpendingKey()
	if err != nil {
		t.Fatalf("spending keygen failed: %v", err)
	}
	view, err := GenerateViewingKey()
	if err != nil {
		t.Fatalf("viewing keygen failed: %v", err)
	}
	return spend, view
}

func TestCommitmentScheme(t *testing.T) {
	spend, view := testKeys(t)
	mpk := MasterPublicKey(spend, view)

	t.Run("Deterministic", func(t *testing.T) {
		n := &Note{MasterPublicKey: mpk, Random: field.FromUint64(7), Value: big.NewInt(100), Token: testToken()}
		cm1, err := n.Commitment()
		if err != nil {
			t.Fatalf("commitment failed: %v", err)
		}
		cm2, err := n.Commitment()
		if err != nil {
			t.Fatalf("commitment failed: %v", err)
		}
		if !cm1.Equal(&cm2) {
			t.Error("commitment is not deterministic")
		}
	})

	t.Run("ValueBindsCommitment", func(t *testing.T) {
		a := &Note{MasterPublicKey: mpk, Random: field.FromUint64(7), Value: big.NewInt(100), Token: testToken()}
		b := &Note{MasterPublicKey: mpk, Random: field.FromUint64(7), Value: big.NewInt(101), Token: testToken()}
		cmA, _ := a.Commitment()
		cmB, _ := b.Commitment()
		if cmA.Equal(&cmB) {
			t.Error("commitments to different values collide")
		}
	})

	t.Run("MatchesPartsDerivation", func(t *testing.T) {
		n, err := NewNote(mpk, big.NewInt(42), testToken())
		if err != nil {
			t.Fatalf("NewNote failed: %v", err)
		}
		cm, _ := n.Commitment()
		tokenID, _ := n.Token.ID()
		value, _ := field.FromBig(n.Value)
		again := CommitmentFromParts(n.NotePublicKey(), tokenID, value)
		if !cm.Equal(&again) {
			t.Error("Commitment and CommitmentFromParts disagree")
		}
	})

	t.Run("OutOfFieldValueRejected", func(t *testing.T) {
		n := &Note{MasterPublicKey: mpk, Random: field.FromUint64(1), Value: new(big.Int).Add(fr.Modulus(), big.NewInt(1)), Token: testToken()}
		if _, err := n.Commitment(); err == nil {
			t.Error("expected range error for out-of-field value")
		}
	})
}

func TestTokenID(t *testing.T) {
	addr := common.HexToAddress("0xdeadbeef00000000000000000000000000000001")

	t.Run("FungibleIsAddress", func(t *testing.T) {
		id, err := TokenData{Kind: Fungible, Address: addr}.ID()
		if err != nil {
			t.Fatalf("ID failed: %v", err)
		}
		want := field.FromAddress(addr)
		if !id.Equal(&want) {
			t.Error("fungible token ID should be the padded address")
		}
	})

	t.Run("SubIDSeparatesItems", func(t *testing.T) {
		a, err := TokenData{Kind: NonFungible, Address: addr, SubID: big.NewInt(1)}.ID()
		if err != nil {
			t.Fatalf("ID failed: %v", err)
		}
		b, err := TokenData{Kind: NonFungible, Address: addr, SubID: big.NewInt(2)}.ID()
		if err != nil {
			t.Fatalf("ID failed: %v", err)
		}
		if a.Equal(&b) {
			t.Error("distinct sub IDs must not share a token ID")
		}
	})

	t.Run("MissingSubIDRejected", func(t *testing.T) {
		if _, err := (TokenData{Kind: SemiFungible, Address: addr}).ID(); err == nil {
			t.Error("semi-fungible token without sub ID should be rejected")
		}
	})
}

func TestNullifierDerivation(t *testing.T) {
	_, view := testKeys(t)
	nk := view.NullifyingKey()

	nf1 := Nullifier(nk, 5)
	nf2 := Nullifier(nk, 5)
	if !nf1.Equal(&nf2) {
		t.Error("nullifier derivation is not deterministic")
	}
	nf3 := Nullifier(nk, 6)
	if nf1.Equal(&nf3) {
		t.Error("nullifiers for distinct leaf indices collide")
	}

	_, otherView := testKeys(t)
	nf4 := Nullifier(otherView.NullifyingKey(), 5)
	if nf1.Equal(&nf4) {
		t.Error("nullifiers for distinct nullifying keys collide")
	}
}

func TestSpendSignature(t *testing.T) {
	spend, _ := testKeys(t)
	digest := field.FromUint64(123456)

	sig, err := spend.Sign(digest)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	ok, err := VerifySignature(spend.Public(), digest, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("valid signature rejected")
	}

	other := field.FromUint64(654321)
	ok, _ = VerifySignature(spend.Public(), other, sig)
	if ok {
		t.Error("signature verified against the wrong digest")
	}
}
