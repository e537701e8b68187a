// Command stubscan serves a fixture tree over the scan protocol so the
// client can be run without a real scanner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sizeview/sizeview/internal/config"
	"github.com/sizeview/sizeview/internal/logger"
	"github.com/sizeview/sizeview/internal/stubscan"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	fixturePath := flag.String("fixture", "", "Path to a YAML fixture (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stubscan: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *fixturePath != "" {
		cfg.Stub.Fixture = *fixturePath
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	if cfg.Stub.Fixture == "" {
		log.Fatal().Msg("No fixture configured, set stub.fixture or pass -fixture")
	}
	fixture, err := stubscan.LoadFixture(cfg.Stub.Fixture)
	if err != nil {
		log.Fatal().Err(err).Str("fixture", cfg.Stub.Fixture).Msg("Failed to load fixture")
	}

	srv, err := stubscan.New(stubscan.NewTree(fixture), stubscan.Options{
		DeleteDelay:  cfg.Stub.DeleteDelay,
		ScanInterval: cfg.Stub.ScanInterval,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create stub server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.Stub.Address()); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}
