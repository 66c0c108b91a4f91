// main.go - Shielded pool daemon.
//
// Boots an in-process shielded pool with its proving backend, registers
// the configured transaction shapes, and serves the REST API plus the
// wallet event feed until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkshield/shieldpool/internal/feed"
	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/prover"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "shieldpoold.json", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "shieldpoold: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()
	logger.Info().Str("version", version).Msg("starting shielded pool daemon")

	metrics := NewMetricsCollector()
	health := NewHealthChecker(version)

	admins := make([]common.Address, len(cfg.Admins))
	for i, a := range cfg.Admins {
		admins[i] = common.HexToAddress(a)
	}
	adapter := pool.NewMemoryTokenAdapter()
	events := pool.NewLog()

	p, err := pool.New(pool.Config{
		MerkleDepth:   cfg.MerkleDepth,
		ShieldFeeBP:   cfg.ShieldFeeBP,
		UnshieldFeeBP: cfg.UnshieldFeeBP,
		FeeRecipient:  common.HexToAddress(cfg.FeeRecipient),
		Tokens:        adapter,
		Auth:          pool.NewStaticAuthorizer(admins...),
		Sink:          events,
		Logger:        logger.With().Str("component", "pool").Logger(),
	})
	if err != nil {
		return err
	}

	// Groth16 setup per configured shape. Slow for deep trees; done once
	// at boot so submissions never wait on it.
	backend := prover.NewBackend(cfg.MerkleDepth, logger.With().Str("component", "prover").Logger())
	for _, shape := range cfg.Shapes {
		start := time.Now()
		vk, err := backend.VerifyingKey(shape[0], shape[1])
		if err != nil {
			return fmt.Errorf("shape %v setup: %w", shape, err)
		}
		if err := p.RegisterVerifyingKey(admins[0], uint8(shape[0]), uint8(shape[1]), vk); err != nil {
			return fmt.Errorf("shape %v registration: %w", shape, err)
		}
		logger.Info().
			Ints("shape", shape[:]).
			Dur("took", time.Since(start)).
			Msg("verifying key registered")
	}

	feedServer, err := feed.NewServer(cfg.FeedAddr, events, logger.With().Str("component", "feed").Logger())
	if err != nil {
		return err
	}
	feedServer.Start()

	api := &apiServer{
		pool:    p,
		events:  events,
		metrics: metrics,
		health:  health,
		limiter: NewClientRateLimiter(cfg.RateLimitTokens, cfg.RateLimitRefill, time.Second),
		log:     logger.With().Str("component", "api").Logger(),
	}
	health.RegisterComponent("pool", func() error {
		for _, shape := range cfg.Shapes {
			if !p.HasShape(uint8(shape[0]), uint8(shape[1])) {
				return fmt.Errorf("shape %v lost its verifying key", shape)
			}
		}
		return nil
	})
	health.RegisterComponent("feed", feedServer.Healthy)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: api.routes()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("api serving")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("api shutdown")
	}
	if err := feedServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("feed shutdown")
	}
	return nil
}
