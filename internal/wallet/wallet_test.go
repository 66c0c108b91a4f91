package wallet

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/prover"
)

const testDepth = 8

var (
	admin   = common.HexToAddress("0xbb00000000000000000000000000000000000001")
	payer   = common.HexToAddress("0xbb00000000000000000000000000000000000002")
	relayer = common.HexToAddress("0xbb00000000000000000000000000000000000003")
	payout  = common.HexToAddress("0xbb00000000000000000000000000000000000004")
	feeTo   = common.HexToAddress("0xbb00000000000000000000000000000000000005")
)

type rig struct {
	t       *testing.T
	ctx     context.Context
	pool    *pool.Pool
	adapter *pool.MemoryTokenAdapter
	events  *pool.Log
	backend *prover.Backend
	token   note.TokenData
	alice   *Wallet
	bob     *Wallet
}

func newRig(t *testing.T, shieldBP uint64) *rig {
	t.Helper()
	adapter := pool.NewMemoryTokenAdapter()
	events := pool.NewLog()
	p, err := pool.New(pool.Config{
		MerkleDepth:  testDepth,
		ShieldFeeBP:  shieldBP,
		FeeRecipient: feeTo,
		Tokens:       adapter,
		Auth:         pool.NewStaticAuthorizer(admin),
		Sink:         events,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	backend := prover.NewBackend(testDepth, zerolog.Nop())
	for _, shape := range [][2]uint8{{1, 1}, {1, 2}, {2, 1}, {2, 2}} {
		vk, err := backend.VerifyingKey(int(shape[0]), int(shape[1]))
		require.NoError(t, err)
		require.NoError(t, p.RegisterVerifyingKey(admin, shape[0], shape[1], vk))
	}

	return &rig{
		t:       t,
		ctx:     context.Background(),
		pool:    p,
		adapter: adapter,
		events:  events,
		backend: backend,
		token:   note.TokenData{Kind: note.Fungible, Address: common.HexToAddress("0x2000000000000000000000000000000000000001")},
		alice:   newWallet(t),
		bob:     newWallet(t),
	}
}

func newWallet(t *testing.T) *Wallet {
	t.Helper()
	spend, err := note.GenerateSpendingKey()
	require.NoError(t, err)
	view, err := note.GenerateViewingKey()
	require.NoError(t, err)
	return New(spend, view, testDepth, zerolog.Nop())
}

// shieldTo deposits one note addressed to the wallet's keys.
func (r *rig) shieldTo(w *Wallet, value int64) {
	r.t.Helper()
	n, err := note.NewNote(w.MasterPublicKey(), big.NewInt(value), r.token)
	require.NoError(r.t, err)
	ct, err := note.EncryptShield(w.ViewingPublicKey(), n.Random)
	require.NoError(r.t, err)
	r.adapter.Mint(payer, r.token, big.NewInt(value))
	require.NoError(r.t, r.pool.Shield(r.ctx, payer, []pool.ShieldRequest{{
		Preimage:   pool.ShieldPreimage{Npk: n.NotePublicKey(), Token: r.token, Value: n.Value},
		Ciphertext: *ct,
	}}))
}

func (r *rig) scanAll() {
	r.t.Helper()
	require.NoError(r.t, r.alice.Scan(r.events.Since(0)))
	require.NoError(r.t, r.bob.Scan(r.events.Since(0)))
}

func (r *rig) balance(w *Wallet) int64 {
	r.t.Helper()
	b, err := w.Balance(r.token)
	require.NoError(r.t, err)
	return b.Int64()
}

func TestScanRecoversShieldedNotes(t *testing.T) {
	r := newRig(t, 250)
	const v = 100_000

	for i := 0; i < 3; i++ {
		r.shieldTo(r.alice, v)
	}
	r.scanAll()

	base, _ := pool.InclusiveFee(big.NewInt(v), 250)
	require.Equal(t, 3, r.alice.NoteCount())
	require.Equal(t, 3*base.Int64(), r.balance(r.alice))

	// Notes sealed to alice are invisible to bob, but bob's mirror still
	// tracks every commitment.
	require.Zero(t, r.bob.NoteCount())
	require.Zero(t, r.balance(r.bob))
	require.True(t, r.pool.HasRoot(r.bob.tree(0).Root()))
}

func TestTransferBetweenWallets(t *testing.T) {
	r := newRig(t, 0)
	r.shieldTo(r.alice, 100)
	r.shieldTo(r.alice, 100)
	r.scanAll()

	tx, err := r.alice.BuildTransactRequest(r.backend, &TransferSpec{
		Token: r.token,
		Sends: []Send{{
			To:    Recipient{MasterPublicKey: r.bob.MasterPublicKey(), ViewingKey: r.bob.ViewingPublicKey()},
			Value: big.NewInt(150),
		}},
	})
	require.NoError(t, err)
	require.Len(t, tx.Nullifiers, 2)  // both notes selected
	require.Len(t, tx.Commitments, 2) // payment + change

	require.NoError(t, r.pool.Transact(r.ctx, relayer, big.NewInt(1), []pool.Transaction{*tx}))
	r.scanAll()

	require.Equal(t, int64(150), r.balance(r.bob))
	require.Equal(t, int64(50), r.balance(r.alice))

	// The spent inputs are excluded, not forgotten.
	require.Equal(t, 3, r.alice.NoteCount())

	// Replaying the identical transaction trips the nullifier set.
	err = r.pool.Transact(r.ctx, relayer, big.NewInt(1), []pool.Transaction{*tx})
	require.ErrorIs(t, err, pool.ErrState)
}

func TestUnshieldThroughWallet(t *testing.T) {
	r := newRig(t, 0)
	r.shieldTo(r.bob, 150)
	r.scanAll()

	tx, err := r.bob.BuildTransactRequest(r.backend, &TransferSpec{
		Token:    r.token,
		Unshield: &UnshieldSpec{Recipient: payout, Value: big.NewInt(150)},
	})
	require.NoError(t, err)
	require.Len(t, tx.Commitments, 1) // unshield only, no change
	require.NotNil(t, tx.Unshield)

	leavesBefore := r.pool.LeafCount()
	require.NoError(t, r.pool.Transact(r.ctx, relayer, big.NewInt(1), []pool.Transaction{*tx}))

	require.Zero(t, r.adapter.Balance(payout, r.token).Cmp(big.NewInt(150)))
	// The withheld commitment never entered the tree.
	require.Equal(t, leavesBefore, r.pool.LeafCount())

	r.scanAll()
	require.Zero(t, r.balance(r.bob))
}

func TestNullifierEventsScopedToTree(t *testing.T) {
	r := newRig(t, 0)
	r.shieldTo(r.alice, 100)
	require.NoError(t, r.alice.Scan(r.events.Since(0)))
	require.Equal(t, int64(100), r.balance(r.alice))

	nf := note.Nullifier(r.alice.view.NullifyingKey(), 0)

	// Leaf indices restart on rollover, so the same nullifier value in a
	// later instance spends a different coin and must not touch this note.
	r.events.Publish(pool.Event{Nullifiers: &pool.NullifierEvent{TreeNumber: 1, Nullifiers: []fr.Element{nf}}})
	require.NoError(t, r.alice.Scan(r.events.Since(0)))
	require.Equal(t, int64(100), r.balance(r.alice))

	// The owning instance's event does mark it spent.
	r.events.Publish(pool.Event{Nullifiers: &pool.NullifierEvent{TreeNumber: 0, Nullifiers: []fr.Element{nf}}})
	require.NoError(t, r.alice.Scan(r.events.Since(0)))
	require.Zero(t, r.balance(r.alice))
}

func TestInsufficientBalance(t *testing.T) {
	r := newRig(t, 0)
	r.shieldTo(r.alice, 10)
	r.scanAll()

	_, err := r.alice.BuildTransactRequest(r.backend, &TransferSpec{
		Token: r.token,
		Sends: []Send{{
			To:    Recipient{MasterPublicKey: r.bob.MasterPublicKey(), ViewingKey: r.bob.ViewingPublicKey()},
			Value: big.NewInt(11),
		}},
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSaveAndLoad(t *testing.T) {
	r := newRig(t, 0)
	r.shieldTo(r.alice, 70)
	r.shieldTo(r.alice, 30)
	r.scanAll()

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, r.alice.Save(path))

	restored, err := Load(path, testDepth, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, restored.NoteCount())

	// Rescanning from zero rebuilds the forest mirror; the restored
	// wallet can then spend.
	require.NoError(t, restored.Scan(r.events.Since(0)))
	tx, err := restored.BuildTransactRequest(r.backend, &TransferSpec{
		Token:    r.token,
		Unshield: &UnshieldSpec{Recipient: payout, Value: big.NewInt(100)},
	})
	require.NoError(t, err)
	require.NoError(t, r.pool.Transact(r.ctx, relayer, big.NewInt(1), []pool.Transaction{*tx}))
	require.Zero(t, r.adapter.Balance(payout, r.token).Cmp(big.NewInt(100)))
}
