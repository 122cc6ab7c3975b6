package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quanthelm/quanthelm/internal/app"
	"github.com/quanthelm/quanthelm/internal/config"
)

const (
	appName = "quanthelm"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Capital allocation and risk governance engine",
		Version: version,
		Long: `quanthelm allocates capital across strategy arms with Thompson Sampling,
governs every trade through hysteresis circuit breakers, and executes
orders behind a hard kill switch. Paper mode is the default; live mode
requires a broker venue adapter.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine",
		Long:  "Load configuration, assemble the engine, and run until interrupted",
		RunE:  runEngine,
	}
	runCmd.Flags().String("config", "", "Path to YAML config (defaults apply when omitted)")
	runCmd.Flags().Bool("paper", false, "Force paper mode regardless of config")
	runCmd.Flags().String("strategies", "", "Comma-separated strategy arms to register at startup")
	runCmd.Flags().String("log-level", "", "Override log level (trace|debug|info|warn|error)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and print the effective settings",
		RunE:  validateConfig,
	}
	validateCmd.Flags().String("config", "", "Path to YAML config")

	rootCmd.AddCommand(runCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if paper, _ := cmd.Flags().GetBool("paper"); paper {
		cfg.Mode = "paper"
	}
	level := cfg.Log.Level
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	if err := applyLogLevel(level); err != nil {
		return err
	}

	engine, err := app.New(cfg, nil)
	if err != nil {
		return err
	}
	if list, _ := cmd.Flags().GetString("strategies"); list != "" {
		for _, id := range strings.Split(list, ",") {
			if id = strings.TrimSpace(id); id != "" {
				engine.AddStrategy(id)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("starting")
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("mode: %s\n", cfg.Mode)
	fmt.Printf("initial_capital: %.2f\n", cfg.InitialCapital)
	fmt.Printf("rebalance_interval: %s\n", cfg.Allocator.RebalanceInterval())
	fmt.Printf("max_open_positions: %d\n", cfg.Risk.MaxOpenPositions)
	fmt.Printf("status_api: enabled=%v addr=%s\n", cfg.Status.Enabled, cfg.Status.Addr)
	fmt.Printf("redis: enabled=%v\n", cfg.Redis.Enabled)
	fmt.Printf("postgres: enabled=%v\n", cfg.Postgres.Enabled)
	fmt.Println("config ok")
	return nil
}

func applyLogLevel(level string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}
