package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10*time.Second, cfg.SendTimeout())
	require.Equal(t, 60*time.Second, cfg.SwapProposeTimeout())
	require.Equal(t, time.Second, cfg.StatusInterval())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "ecchat.yaml")
	cfg := DefaultConfig()
	cfg.Coins = append(cfg.Coins, CoinConfig{Symbol: "ltc", RPCAddress: "127.0.0.1:9332", Notify: "quic://bridge:7443"})
	cfg.Timeouts.SwapStep = "15s"
	require.NoError(t, cfg.Save(path))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), st.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
	require.Equal(t, 15*time.Second, got.SwapStepTimeout())
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol_id: 7\n"), 0600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.ProtocolID)
	require.Equal(t, "ecc", cfg.Coins[0].Symbol)
	require.Equal(t, "10s", cfg.Timeouts.Send)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECCHAT_RPC_USER", "alice")
	t.Setenv("ECCHAT_RPC_PASS", "secret")
	t.Setenv("ECCHAT_RPC_ADDRESS", "10.0.0.2:19119")
	t.Setenv("ECCHAT_LOG_DIR", "/tmp/ecchat-log")
	t.Setenv("ECCHAT_METRICS_ADDR", "127.0.0.1:9100")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.Coins[0].RPCUser)
	require.Equal(t, "secret", cfg.Coins[0].RPCPass)
	require.Equal(t, "10.0.0.2:19119", cfg.Coins[0].RPCAddress)
	require.Equal(t, "/tmp/ecchat-log", cfg.LogDir)
	require.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ECCHAT_TEST_ONLY_KEY=from-file\n"), 0600))
	t.Setenv("ECCHAT_TEST_ONLY_KEY", "")
	require.NoError(t, os.Unsetenv("ECCHAT_TEST_ONLY_KEY"))
	require.NoError(t, LoadEnvFile(path))
	require.Equal(t, "from-file", os.Getenv("ECCHAT_TEST_ONLY_KEY"))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"protocol id":   func(c *Config) { c.ProtocolID = 0 },
		"no coins":      func(c *Config) { c.Coins = nil },
		"empty symbol":  func(c *Config) { c.Coins[0].Symbol = " " },
		"duplicate":     func(c *Config) { c.Coins = append(c.Coins, c.Coins[0]) },
		"no address":    func(c *Config) { c.Coins[0].RPCAddress = "" },
		"notify scheme": func(c *Config) { c.Coins[0].Notify = "http://x" },
		"bad duration":  func(c *Config) { c.Timeouts.Send = "soon" },
		"zero duration": func(c *Config) { c.Intervals.Status = "0s" },
		"rate limit":    func(c *Config) { c.RateLimit = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
