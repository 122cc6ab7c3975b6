// Package config loads and validates the engine configuration from YAML,
// applying defaults for every omitted field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Mode           string  `yaml:"mode"` // "paper" or "live"

	Allocator AllocatorConfig `yaml:"allocator"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Status    StatusConfig    `yaml:"status"`
	Log       LogConfig       `yaml:"log"`
}

// AllocatorConfig tunes the Thompson Sampling capital allocator.
type AllocatorConfig struct {
	RebalanceIntervalSec  int     `yaml:"rebalance_interval_sec"`
	MonteCarloRounds      int     `yaml:"monte_carlo_rounds"`
	MaxKellyFraction      float64 `yaml:"max_kelly_fraction"`
	MinKellyFloor         float64 `yaml:"min_kelly_floor"`
	CorrelationThreshold  float64 `yaml:"correlation_threshold"`
	CorrelationPenalty    float64 `yaml:"correlation_penalty"`
	MinCorrelationSamples int     `yaml:"min_correlation_samples"`
	RegimeMinTrades       int     `yaml:"regime_min_trades"`
	MaxReturnHistory      int     `yaml:"max_return_history"`
	DecisionHistory       int     `yaml:"decision_history"`
	Seed                  int64   `yaml:"seed"` // 0 = time-based
}

// RiskConfig tunes the risk governor and its circuit breakers.
type RiskConfig struct {
	MaxSingleTradeRisk     float64 `yaml:"max_single_trade_risk"`
	MaxOpenPositions       int     `yaml:"max_open_positions"`
	DailyDrawdownLimit     float64 `yaml:"daily_drawdown_limit"`
	WeeklyDrawdownLimit    float64 `yaml:"weekly_drawdown_limit"`
	EmergencyDrawdownLimit float64 `yaml:"emergency_drawdown_limit"`
	CorrelationLimit       float64 `yaml:"correlation_limit"`
	CheckIntervalSec       int     `yaml:"check_interval_sec"`
	VetoHistory            int     `yaml:"veto_history"`
}

// ExecutionConfig tunes sizing, slippage, the kill switch, and venue access.
type ExecutionConfig struct {
	MaxPositionFraction  float64 `yaml:"max_position_fraction"`
	BaseSlippageBps      float64 `yaml:"base_slippage_bps"`
	MaxSlippageBps       float64 `yaml:"max_slippage_bps"`
	AssumedStopDistance  float64 `yaml:"assumed_stop_distance"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDrawdownPercent   float64 `yaml:"max_drawdown_percent"`
	VenueTimeoutMs       int     `yaml:"venue_timeout_ms"`
	OrderRatePerSec      float64 `yaml:"order_rate_per_sec"`
	OrderBurst           int     `yaml:"order_burst"`
	MarkIntervalSec      int     `yaml:"mark_interval_sec"`
	OrderHistory         int     `yaml:"order_history"`
}

// RedisConfig controls the optional snapshot publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl_sec"`
}

// PostgresConfig controls the optional checkpoint store.
type PostgresConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// StatusConfig controls the read-only operator HTTP API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		InitialCapital: 10000,
		Mode:           "paper",
		Allocator: AllocatorConfig{
			RebalanceIntervalSec:  60,
			MonteCarloRounds:      10000,
			MaxKellyFraction:      0.25,
			MinKellyFloor:         0.1,
			CorrelationThreshold:  0.7,
			CorrelationPenalty:    0.5,
			MinCorrelationSamples: 30,
			RegimeMinTrades:       5,
			MaxReturnHistory:      500,
			DecisionHistory:       200,
		},
		Risk: RiskConfig{
			MaxSingleTradeRisk:     0.02,
			MaxOpenPositions:       10,
			DailyDrawdownLimit:     0.05,
			WeeklyDrawdownLimit:    0.10,
			EmergencyDrawdownLimit: 0.08,
			CorrelationLimit:       0.7,
			CheckIntervalSec:       5,
			VetoHistory:            500,
		},
		Execution: ExecutionConfig{
			MaxPositionFraction:  0.02,
			BaseSlippageBps:      2,
			MaxSlippageBps:       10,
			AssumedStopDistance:  0.02,
			MaxConsecutiveLosses: 3,
			MaxDrawdownPercent:   8,
			VenueTimeoutMs:       5000,
			OrderRatePerSec:      5,
			OrderBurst:           10,
			MarkIntervalSec:      5,
			OrderHistory:         200,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			TTLSec: 300,
		},
		Postgres: PostgresConfig{
			TimeoutMs: 3000,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8086",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break engine invariants.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be \"paper\" or \"live\", got %q", c.Mode)
	}
	if c.Allocator.MonteCarloRounds <= 0 {
		return fmt.Errorf("allocator.monte_carlo_rounds must be positive")
	}
	if c.Allocator.MaxKellyFraction <= 0 || c.Allocator.MaxKellyFraction > 1 {
		return fmt.Errorf("allocator.max_kelly_fraction must be in (0,1], got %v", c.Allocator.MaxKellyFraction)
	}
	if c.Allocator.CorrelationThreshold <= 0 || c.Allocator.CorrelationThreshold >= 1 {
		return fmt.Errorf("allocator.correlation_threshold must be in (0,1), got %v", c.Allocator.CorrelationThreshold)
	}
	if c.Risk.MaxSingleTradeRisk <= 0 {
		return fmt.Errorf("risk.max_single_trade_risk must be positive")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive")
	}
	if c.Risk.DailyDrawdownLimit <= 0 || c.Risk.WeeklyDrawdownLimit <= 0 || c.Risk.EmergencyDrawdownLimit <= 0 {
		return fmt.Errorf("risk drawdown limits must be positive")
	}
	if c.Execution.MaxSlippageBps < c.Execution.BaseSlippageBps {
		return fmt.Errorf("execution.max_slippage_bps (%v) below base_slippage_bps (%v)",
			c.Execution.MaxSlippageBps, c.Execution.BaseSlippageBps)
	}
	if c.Execution.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("execution.max_consecutive_losses must be positive")
	}
	if c.Execution.MaxDrawdownPercent <= 0 {
		return fmt.Errorf("execution.max_drawdown_percent must be positive")
	}
	return nil
}

// RebalanceInterval returns the allocator cadence as a duration.
func (c AllocatorConfig) RebalanceInterval() time.Duration {
	return time.Duration(c.RebalanceIntervalSec) * time.Second
}

// CheckInterval returns the risk-check cadence as a duration.
func (c RiskConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// VenueTimeout returns the live-venue call timeout as a duration.
func (c ExecutionConfig) VenueTimeout() time.Duration {
	return time.Duration(c.VenueTimeoutMs) * time.Millisecond
}

// MarkInterval returns the mark-to-market cadence as a duration.
func (c ExecutionConfig) MarkInterval() time.Duration {
	return time.Duration(c.MarkIntervalSec) * time.Second
}

// Timeout returns the checkpoint-store statement timeout as a duration.
func (c PostgresConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TTL returns the snapshot TTL as a duration.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}
