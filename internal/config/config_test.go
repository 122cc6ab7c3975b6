package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
initial_capital: 25000
allocator:
  monte_carlo_rounds: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25000.0, cfg.InitialCapital)
	assert.Equal(t, 500, cfg.Allocator.MonteCarloRounds)
	// Untouched fields keep defaults.
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 0.25, cfg.Allocator.MaxKellyFraction)
	assert.Equal(t, 0.02, cfg.Risk.MaxSingleTradeRisk)
	assert.Equal(t, 3, cfg.Execution.MaxConsecutiveLosses)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "backtest" }},
		{"zero mc rounds", func(c *Config) { c.Allocator.MonteCarloRounds = 0 }},
		{"kelly above one", func(c *Config) { c.Allocator.MaxKellyFraction = 1.5 }},
		{"correlation out of range", func(c *Config) { c.Allocator.CorrelationThreshold = 1.0 }},
		{"zero trade risk", func(c *Config) { c.Risk.MaxSingleTradeRisk = 0 }},
		{"zero positions", func(c *Config) { c.Risk.MaxOpenPositions = 0 }},
		{"slippage cap below base", func(c *Config) {
			c.Execution.BaseSlippageBps = 5
			c.Execution.MaxSlippageBps = 2
		}},
		{"zero max losses", func(c *Config) { c.Execution.MaxConsecutiveLosses = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1m0s", cfg.Allocator.RebalanceInterval().String())
	assert.Equal(t, "5s", cfg.Risk.CheckInterval().String())
	assert.Equal(t, "5s", cfg.Execution.VenueTimeout().String())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quanthelm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
