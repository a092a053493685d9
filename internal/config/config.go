// Package config loads the ecchat YAML configuration with .env and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "ecchat.yaml"

// Config is the on-disk configuration.
type Config struct {
	ProtocolID  int            `yaml:"protocol_id"`
	ProtocolVer int            `yaml:"protocol_ver"`
	Coins       []CoinConfig   `yaml:"coins"`
	LogDir      string         `yaml:"log_dir"`
	DataDir     string         `yaml:"data_dir"`
	MetricsAddr string         `yaml:"metrics_addr,omitempty"`
	Timeouts    TimeoutConfig  `yaml:"timeouts"`
	Intervals   IntervalConfig `yaml:"intervals"`
	// RateLimit caps inbound envelopes per sender per second; 0 disables.
	RateLimit int `yaml:"rate_limit"`
}

// CoinConfig describes one ledger daemon. The first coin is primary and
// carries the relay.
type CoinConfig struct {
	Symbol     string `yaml:"symbol"`
	RPCAddress string `yaml:"rpc_address"`
	RPCUser    string `yaml:"rpc_user"`
	RPCPass    string `yaml:"rpc_pass"`
	// Notify overrides the daemon's advertised publisher, e.g.
	// tcp://127.0.0.1:28001 or quic://bridge.example:7443.
	Notify string `yaml:"notify,omitempty"`
}

type TimeoutConfig struct {
	Send        string `yaml:"send"`
	SwapPropose string `yaml:"swap_propose"`
	SwapStep    string `yaml:"swap_step"`
	RPC         string `yaml:"rpc"`
}

type IntervalConfig struct {
	Status      string `yaml:"status"`
	Maintenance string `yaml:"maintenance"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProtocolID:  1,
		ProtocolVer: 1,
		Coins: []CoinConfig{{
			Symbol:     "ecc",
			RPCAddress: "127.0.0.1:19119",
		}},
		LogDir:  "log",
		DataDir: "data",
		Timeouts: TimeoutConfig{
			Send:        "10s",
			SwapPropose: "60s",
			SwapStep:    "10s",
			RPC:         "8s",
		},
		Intervals: IntervalConfig{
			Status:      "1s",
			Maintenance: "10s",
		},
		RateLimit: 20,
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file when present. Values
// already set in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML. Credentials are written as-is, so
// the file is private to the user.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if len(c.Coins) > 0 {
		primary := &c.Coins[0]
		if v := os.Getenv("ECCHAT_RPC_USER"); v != "" {
			primary.RPCUser = v
		}
		if v := os.Getenv("ECCHAT_RPC_PASS"); v != "" {
			primary.RPCPass = v
		}
		if v := os.Getenv("ECCHAT_RPC_ADDRESS"); v != "" {
			primary.RPCAddress = v
		}
	}
	if v := os.Getenv("ECCHAT_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("ECCHAT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) SendTimeout() time.Duration {
	return duration(c.Timeouts.Send, 10*time.Second)
}

func (c *Config) SwapProposeTimeout() time.Duration {
	return duration(c.Timeouts.SwapPropose, 60*time.Second)
}

func (c *Config) SwapStepTimeout() time.Duration {
	return duration(c.Timeouts.SwapStep, 10*time.Second)
}

func (c *Config) RPCTimeout() time.Duration {
	return duration(c.Timeouts.RPC, 8*time.Second)
}

func (c *Config) StatusInterval() time.Duration {
	return duration(c.Intervals.Status, time.Second)
}

func (c *Config) MaintenanceInterval() time.Duration {
	return duration(c.Intervals.Maintenance, 10*time.Second)
}

// Validate checks the configuration for values the program cannot run with.
func (c *Config) Validate() error {
	if c.ProtocolID <= 0 {
		return fmt.Errorf("protocol_id must be positive: %d", c.ProtocolID)
	}
	if c.ProtocolVer <= 0 {
		return fmt.Errorf("protocol_ver must be positive: %d", c.ProtocolVer)
	}
	if len(c.Coins) == 0 {
		return errors.New("no coins configured")
	}
	seen := make(map[string]bool, len(c.Coins))
	for i, coin := range c.Coins {
		if strings.TrimSpace(coin.Symbol) == "" {
			return fmt.Errorf("coin %d: missing symbol", i)
		}
		if seen[coin.Symbol] {
			return fmt.Errorf("coin %s: duplicate symbol", coin.Symbol)
		}
		seen[coin.Symbol] = true
		if strings.TrimSpace(coin.RPCAddress) == "" {
			return fmt.Errorf("coin %s: missing rpc_address", coin.Symbol)
		}
		if coin.Notify != "" && !strings.HasPrefix(coin.Notify, "tcp://") && !strings.HasPrefix(coin.Notify, "quic://") {
			return fmt.Errorf("coin %s: notify must be tcp:// or quic://: %s", coin.Symbol, coin.Notify)
		}
	}
	for name, v := range map[string]string{
		"timeouts.send":         c.Timeouts.Send,
		"timeouts.swap_propose": c.Timeouts.SwapPropose,
		"timeouts.swap_step":    c.Timeouts.SwapStep,
		"timeouts.rpc":          c.Timeouts.RPC,
		"intervals.status":      c.Intervals.Status,
		"intervals.maintenance": c.Intervals.Maintenance,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative: %d", c.RateLimit)
	}
	return nil
}
