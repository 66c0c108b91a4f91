// config.go - Configuration management for the shielded pool daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Config represents the daemon configuration.
type Config struct {
	// Network
	ListenAddr string `json:"listen_addr"`
	FeedAddr   string `json:"feed_addr"`

	// Pool parameters
	MerkleDepth   int      `json:"merkle_depth"`
	ShieldFeeBP   uint64   `json:"shield_fee_bp"`
	UnshieldFeeBP uint64   `json:"unshield_fee_bp"`
	FeeRecipient  string   `json:"fee_recipient"`
	Admins        []string `json:"admins"`

	// Proving shapes set up at boot, as [inputs, outputs] pairs.
	Shapes [][2]int `json:"shapes"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting
	RateLimitTokens int `json:"rate_limit_tokens"`
	RateLimitRefill int `json:"rate_limit_refill_per_sec"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:8545",
		FeedAddr:        "127.0.0.1:8546",
		MerkleDepth:     16,
		ShieldFeeBP:     25,
		UnshieldFeeBP:   25,
		FeeRecipient:    "0x0000000000000000000000000000000000000fee",
		Admins:          []string{"0x0000000000000000000000000000000000000ad1"},
		Shapes:          [][2]int{{1, 2}, {1, 3}, {2, 2}, {2, 3}},
		LogLevel:        "info",
		RateLimitTokens: 20,
		RateLimitRefill: 10,
	}
}

// LoadConfig loads configuration from file or creates default.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open config file")
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, errors.Wrap(err, "failed to decode config file")
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, errors.Wrap(err, "failed to save default config")
	}
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	file, err := os.Create(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.MerkleDepth <= 0 || c.MerkleDepth > 32 {
		return fmt.Errorf("merkle_depth must be in 1..32")
	}
	if c.ShieldFeeBP >= 10000 || c.UnshieldFeeBP >= 10000 {
		return fmt.Errorf("fee rates must be below 10000 basis points")
	}
	if !common.IsHexAddress(c.FeeRecipient) {
		return fmt.Errorf("fee_recipient is not a valid address")
	}
	for _, a := range c.Admins {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("admin %q is not a valid address", a)
		}
	}
	if len(c.Shapes) > 0 && len(c.Admins) == 0 {
		return fmt.Errorf("shapes are configured but no admin can register their keys")
	}
	for _, shape := range c.Shapes {
		if shape[0] <= 0 || shape[0] > 255 || shape[1] <= 0 || shape[1] > 255 {
			return fmt.Errorf("shape %v out of range", shape)
		}
	}
	if c.RateLimitTokens <= 0 || c.RateLimitRefill <= 0 {
		return fmt.Errorf("rate limit parameters must be positive")
	}
	return nil
}
