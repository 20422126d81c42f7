// Wolfinch is the automated trading engine: it ingests market data for
// the configured instruments, runs strategies over rolling candle
// series, and dispatches orders through brokerage adapters behind a
// risk gate, recording every decision into the event sinks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/supervisor"
)

var (
	configPath = flag.String("config", "config/wolfinch.yml", "Path to the root configuration file")
	primary    = flag.String("primary", "", "Primary exchange whose balances seed market state")
	simulate   = flag.Bool("simulate", false, "Run every venue on the paper adapter")
)

func main() {
	// Load .env if present; real deployments inject the environment.
	_ = godotenv.Load()

	flag.Parse()

	if err := run(); err != nil {
		logger.Fatal("fatal", "error", err.Error())
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.SetDefault(logger.New(&logger.Config{
		Level:  parseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("signal received, stopping", "signal", sig.String())
		cancel()
	}()

	sup := supervisor.New(cfg, supervisor.Options{
		Primary:  *primary,
		Simulate: *simulate,
	})
	if err := sup.Init(ctx); err != nil {
		return err
	}
	return sup.Run(ctx)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
