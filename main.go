// main.go - End-to-end shielded pool scenario.
//
// This demonstrates the full life of shielded value:
//   - Alice shields three deposits; the pool carves out the inclusive fee
//   - Both wallets follow the ledger through the HTTP event feed
//   - Alice privately transfers to Bob inside the pool
//   - Bob unshields to a plaintext address, redirecting the payout via
//     an authorized destination override
//
// Usage:
//   go run main.go
//
// Everything runs in-process: the in-memory token ledger stands in for the
// host chain, and the gnark backend produces real Groth16 proofs, so the
// scenario exercises the same validation path a deployment would.

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/feed"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/prover"
	"github.com/zkshield/shieldpool/internal/wallet"
)

const demoDepth = 8

var (
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	bobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	carolAddr = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	feeAddr   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("scenario failed")
	}
}

func run(logger zerolog.Logger) error {
	ctx := context.Background()

	// --- Setup: pool, proving backend, event feed ---

	adapter := pool.NewMemoryTokenAdapter()
	events := pool.NewLog()
	p, err := pool.New(pool.Config{
		MerkleDepth:  demoDepth,
		ShieldFeeBP:  25, // 0.25% inclusive deposit fee
		FeeRecipient: feeAddr,
		Tokens:       adapter,
		Auth:         pool.NewStaticAuthorizer(adminAddr),
		Sink:         events,
		Logger:       logger.With().Str("component", "pool").Logger(),
	})
	if err != nil {
		return err
	}

	backend := prover.NewBackend(demoDepth, logger.With().Str("component", "prover").Logger())
	logger.Info().Msg("running Groth16 setup for transaction shapes")
	for _, shape := range [][2]uint8{{1, 2}, {2, 2}} {
		vk, err := backend.VerifyingKey(int(shape[0]), int(shape[1]))
		if err != nil {
			return err
		}
		if err := p.RegisterVerifyingKey(adminAddr, shape[0], shape[1], vk); err != nil {
			return err
		}
	}

	feedServer, err := feed.NewServer("127.0.0.1:0", events, logger.With().Str("component", "feed").Logger())
	if err != nil {
		return err
	}
	feedServer.Start()
	defer feedServer.Stop(ctx)

	// --- Wallets ---

	alice, err := newWallet(logger, "alice")
	if err != nil {
		return err
	}
	bob, err := newWallet(logger, "bob")
	if err != nil {
		return err
	}
	aliceFeed := feed.NewClient(feedServer.Addr(), logger)
	bobFeed := feed.NewClient(feedServer.Addr(), logger)

	token := note.TokenData{Kind: note.Fungible, Address: common.HexToAddress("0x00000000000000000000000000000000000f00d1")}
	adapter.Mint(aliceAddr, token, big.NewInt(300_000))

	// --- Phase 1: Alice shields three deposits ---

	logger.Info().Msg("=== Phase 1: shield ===")
	reqs := make([]pool.ShieldRequest, 3)
	for i := range reqs {
		n, err := note.NewNote(alice.MasterPublicKey(), big.NewInt(100_000), token)
		if err != nil {
			return err
		}
		ct, err := note.EncryptShield(alice.ViewingPublicKey(), n.Random)
		if err != nil {
			return err
		}
		reqs[i] = pool.ShieldRequest{
			Preimage:   pool.ShieldPreimage{Npk: n.NotePublicKey(), Token: token, Value: n.Value},
			Ciphertext: *ct,
		}
	}
	if err := p.Shield(ctx, aliceAddr, reqs); err != nil {
		return err
	}
	if err := syncAll(ctx, aliceFeed, alice, bobFeed, bob); err != nil {
		return err
	}
	logBalances(logger, token, alice, bob)
	logger.Info().Str("fees", adapter.Balance(feeAddr, token).String()).Msg("fee recipient credited")

	// --- Phase 2: private transfer Alice -> Bob ---

	logger.Info().Msg("=== Phase 2: shielded transfer ===")
	tx, err := alice.BuildTransactRequest(backend, &wallet.TransferSpec{
		Token: token,
		Sends: []wallet.Send{{
			To: wallet.Recipient{
				MasterPublicKey: bob.MasterPublicKey(),
				ViewingKey:      bob.ViewingPublicKey(),
			},
			Value: big.NewInt(150_000),
		}},
	})
	if err != nil {
		return err
	}
	if err := p.Transact(ctx, aliceAddr, big.NewInt(1), []pool.Transaction{*tx}); err != nil {
		return err
	}
	if err := syncAll(ctx, aliceFeed, alice, bobFeed, bob); err != nil {
		return err
	}
	logBalances(logger, token, alice, bob)

	// --- Phase 3: Bob unshields with a destination override ---

	logger.Info().Msg("=== Phase 3: unshield with override ===")
	unshield, err := bob.BuildTransactRequest(backend, &wallet.TransferSpec{
		Token: token,
		Unshield: &wallet.UnshieldSpec{
			Recipient:     bobAddr,
			Value:         big.NewInt(150_000),
			AllowOverride: true,
			Override:      &carolAddr,
		},
	})
	if err != nil {
		return err
	}
	// Only the declared recipient may redirect; Bob submits this himself.
	if err := p.Transact(ctx, bobAddr, big.NewInt(1), []pool.Transaction{*unshield}); err != nil {
		return err
	}
	if err := syncAll(ctx, aliceFeed, alice, bobFeed, bob); err != nil {
		return err
	}
	logBalances(logger, token, alice, bob)
	logger.Info().
		Str("carol", adapter.Balance(carolAddr, token).String()).
		Msg("override payout delivered")

	fmt.Println("scenario complete")
	return nil
}

func newWallet(logger zerolog.Logger, name string) (*wallet.Wallet, error) {
	spend, err := note.GenerateSpendingKey()
	if err != nil {
		return nil, err
	}
	view, err := note.GenerateViewingKey()
	if err != nil {
		return nil, err
	}
	return wallet.New(spend, view, demoDepth, logger.With().Str("wallet", name).Logger()), nil
}

func syncAll(ctx context.Context, aliceFeed *feed.Client, alice *wallet.Wallet, bobFeed *feed.Client, bob *wallet.Wallet) error {
	if err := aliceFeed.Sync(ctx, alice); err != nil {
		return err
	}
	return bobFeed.Sync(ctx, bob)
}

func logBalances(logger zerolog.Logger, token note.TokenData, alice, bob *wallet.Wallet) {
	a, _ := alice.Balance(token)
	b, _ := bob.Balance(token)
	logger.Info().
		Str("alice", a.String()).
		Str("bob", b.String()).
		Msg("shielded balances")
}
