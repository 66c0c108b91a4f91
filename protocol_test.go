// protocol_test.go - Cross-package integration tests for the shielded pool.
//
// These walk the full protocol the way the demo scenario does, with real
// Groth16 proofs: deposits with fee carve-out, wallet recovery over the
// event feed, a private multi-output transfer with replay detection, and
// an unshield with destination-override authorization.

package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/feed"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/prover"
	"github.com/zkshield/shieldpool/internal/wallet"
)

const (
	testDepth       = 8
	depositValue    = 100_000
	shieldFeeBasis  = 250
	expectedPerNote = 97_560 // depositValue * 10000 / 10250, floored
)

type harness struct {
	ctx     context.Context
	pool    *pool.Pool
	adapter *pool.MemoryTokenAdapter
	events  *pool.Log
	backend *prover.Backend
	token   note.TokenData

	alice     *wallet.Wallet
	bob       *wallet.Wallet
	aliceFeed *feed.Client
	bobFeed   *feed.Client
	stopFeed  func()
}

func setup(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	adapter := pool.NewMemoryTokenAdapter()
	events := pool.NewLog()
	p, err := pool.New(pool.Config{
		MerkleDepth:  testDepth,
		ShieldFeeBP:  shieldFeeBasis,
		FeeRecipient: feeAddr,
		Tokens:       adapter,
		Auth:         pool.NewStaticAuthorizer(adminAddr),
		Sink:         events,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("pool setup: %v", err)
	}

	backend := prover.NewBackend(testDepth, logger)
	for _, shape := range [][2]uint8{{2, 1}, {2, 3}} {
		vk, err := backend.VerifyingKey(int(shape[0]), int(shape[1]))
		if err != nil {
			t.Fatalf("shape %v setup: %v", shape, err)
		}
		if err := p.RegisterVerifyingKey(adminAddr, shape[0], shape[1], vk); err != nil {
			t.Fatalf("shape %v registration: %v", shape, err)
		}
	}

	feedServer, err := feed.NewServer("127.0.0.1:0", events, logger)
	if err != nil {
		t.Fatalf("feed server: %v", err)
	}
	feedServer.Start()

	alice, err := newWallet(logger, "alice")
	if err != nil {
		t.Fatalf("alice wallet: %v", err)
	}
	bob, err := newWallet(logger, "bob")
	if err != nil {
		t.Fatalf("bob wallet: %v", err)
	}

	return &harness{
		ctx:       context.Background(),
		pool:      p,
		adapter:   adapter,
		events:    events,
		backend:   backend,
		token:     note.TokenData{Kind: note.Fungible, Address: common.HexToAddress("0x00000000000000000000000000000000000f00d1")},
		alice:     alice,
		bob:       bob,
		aliceFeed: feed.NewClient(feedServer.Addr(), logger),
		bobFeed:   feed.NewClient(feedServer.Addr(), logger),
		stopFeed:  func() { _ = feedServer.Stop(context.Background()) },
	}
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.aliceFeed.Sync(h.ctx, h.alice); err != nil {
		t.Fatalf("alice sync: %v", err)
	}
	if err := h.bobFeed.Sync(h.ctx, h.bob); err != nil {
		t.Fatalf("bob sync: %v", err)
	}
}

func (h *harness) balance(t *testing.T, w *wallet.Wallet) int64 {
	t.Helper()
	b, err := w.Balance(h.token)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Int64()
}

func TestShieldedPoolProtocol(t *testing.T) {
	h := setup(t)
	defer h.stopFeed()

	t.Run("Shield", func(t *testing.T) {
		h.adapter.Mint(aliceAddr, h.token, big.NewInt(3*depositValue))

		reqs := make([]pool.ShieldRequest, 3)
		for i := range reqs {
			n, err := note.NewNote(h.alice.MasterPublicKey(), big.NewInt(depositValue), h.token)
			if err != nil {
				t.Fatalf("note: %v", err)
			}
			ct, err := note.EncryptShield(h.alice.ViewingPublicKey(), n.Random)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			reqs[i] = pool.ShieldRequest{
				Preimage:   pool.ShieldPreimage{Npk: n.NotePublicKey(), Token: h.token, Value: n.Value},
				Ciphertext: *ct,
			}
		}
		if err := h.pool.Shield(h.ctx, aliceAddr, reqs); err != nil {
			t.Fatalf("shield: %v", err)
		}

		if got := h.pool.LeafCount(); got != 3 {
			t.Errorf("leaf count = %d, want 3", got)
		}
		wantFee := int64(3 * (depositValue - expectedPerNote))
		if got := h.adapter.Balance(feeAddr, h.token).Int64(); got != wantFee {
			t.Errorf("fee recipient credited %d, want %d", got, wantFee)
		}

		h.sync(t)
		if got := h.alice.NoteCount(); got != 3 {
			t.Errorf("alice recovered %d notes, want 3", got)
		}
		if got := h.balance(t, h.alice); got != 3*expectedPerNote {
			t.Errorf("alice balance = %d, want %d", got, 3*expectedPerNote)
		}
		if got := h.balance(t, h.bob); got != 0 {
			t.Errorf("bob balance = %d, want 0", got)
		}
	})

	t.Run("TransferTwoInThreeOut", func(t *testing.T) {
		tx, err := h.alice.BuildTransactRequest(h.backend, &wallet.TransferSpec{
			Token: h.token,
			Sends: []wallet.Send{
				{To: wallet.Recipient{MasterPublicKey: h.bob.MasterPublicKey(), ViewingKey: h.bob.ViewingPublicKey()}, Value: big.NewInt(50_000)},
				{To: wallet.Recipient{MasterPublicKey: h.bob.MasterPublicKey(), ViewingKey: h.bob.ViewingPublicKey()}, Value: big.NewInt(60_000)},
			},
		})
		if err != nil {
			t.Fatalf("build transfer: %v", err)
		}
		if len(tx.Nullifiers) != 2 || len(tx.Commitments) != 3 {
			t.Fatalf("shape = %dx%d, want 2x3", len(tx.Nullifiers), len(tx.Commitments))
		}

		leavesBefore := h.pool.LeafCount()
		if err := h.pool.Transact(h.ctx, aliceAddr, big.NewInt(1), []pool.Transaction{*tx}); err != nil {
			t.Fatalf("transact: %v", err)
		}
		if got := h.pool.SpentCount(); got != 2 {
			t.Errorf("nullifier count = %d, want 2", got)
		}
		if got := h.pool.LeafCount(); got != leavesBefore+3 {
			t.Errorf("leaf count = %d, want %d", got, leavesBefore+3)
		}

		// Replaying the identical transaction must trip the nullifier set.
		err = h.pool.Transact(h.ctx, aliceAddr, big.NewInt(1), []pool.Transaction{*tx})
		if !errors.Is(err, pool.ErrState) {
			t.Errorf("replay error = %v, want ErrState", err)
		}

		h.sync(t)
		if got := h.balance(t, h.bob); got != 110_000 {
			t.Errorf("bob balance = %d, want 110000", got)
		}
		wantAlice := int64(3*expectedPerNote - 110_000)
		if got := h.balance(t, h.alice); got != wantAlice {
			t.Errorf("alice balance = %d, want %d", got, wantAlice)
		}
	})

	t.Run("UnshieldOverride", func(t *testing.T) {
		tx, err := h.bob.BuildTransactRequest(h.backend, &wallet.TransferSpec{
			Token: h.token,
			Unshield: &wallet.UnshieldSpec{
				Recipient:     bobAddr,
				Value:         big.NewInt(110_000),
				AllowOverride: true,
				Override:      &carolAddr,
			},
		})
		if err != nil {
			t.Fatalf("build unshield: %v", err)
		}

		// A caller other than the declared recipient may not redirect.
		err = h.pool.Transact(h.ctx, aliceAddr, big.NewInt(1), []pool.Transaction{*tx})
		if !errors.Is(err, pool.ErrAuthorization) {
			t.Fatalf("foreign override error = %v, want ErrAuthorization", err)
		}
		if got := h.adapter.Balance(carolAddr, h.token).Int64(); got != 0 {
			t.Fatalf("carol credited %d before authorization", got)
		}

		// The declared recipient may.
		if err := h.pool.Transact(h.ctx, bobAddr, big.NewInt(1), []pool.Transaction{*tx}); err != nil {
			t.Fatalf("unshield: %v", err)
		}
		if got := h.adapter.Balance(carolAddr, h.token).Int64(); got != 110_000 {
			t.Errorf("carol balance = %d, want 110000", got)
		}

		h.sync(t)
		if got := h.balance(t, h.bob); got != 0 {
			t.Errorf("bob balance = %d, want 0 after unshield", got)
		}
	})
}
