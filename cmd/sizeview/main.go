package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sizeview/sizeview/internal/config"
	"github.com/sizeview/sizeview/internal/console"
	"github.com/sizeview/sizeview/internal/logger"
	"github.com/sizeview/sizeview/internal/session"
	"github.com/sizeview/sizeview/internal/view"
	"github.com/sizeview/sizeview/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	endpoint := flag.String("endpoint", "", "Scan server websocket URL (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sizeview: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *endpoint != "" {
		cfg.Server.Endpoint = *endpoint
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "sizeview: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// The console owns stdout; logs go to stderr, or only to the file when one is configured.
	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Output:     os.Stderr,
		Quiet:      cfg.Logging.Path != "",
	})
	defer log.Close()
	appLog := log.WithComponent("main")

	appLog.Info().
		Str("version", config.Version).
		Str("endpoint", cfg.Server.Endpoint).
		Msg("starting sizeview")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := websocket.NewClient(websocket.Options{
		Endpoint:    cfg.Server.Endpoint,
		DialTimeout: cfg.Server.DialTimeout,
		PingPeriod:  cfg.Server.PingPeriod,
	}, log.Logger)
	appLog.Debug().Str("connection", client.ID()).Msg("Client created")

	ui := console.New(os.Stdout)
	sess := session.New(client, ui, session.Options{
		PageSize:        cfg.View.PageSize,
		Sort:            view.SortOptions{UpdatingFirst: cfg.View.UpdatingFirst},
		MutationTimeout: cfg.Mutation.Timeout,
		SweepInterval:   cfg.Mutation.SweepInterval,
	}, log.Logger)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	go func() {
		if err := ui.ReadCommands(ctx, os.Stdin, sess); err != nil {
			appLog.Warn().Err(err).Msg("Failed to read commands")
		}
		stop()
	}()

	if err := <-runErr; err != nil {
		var connErr *websocket.ConnectionError
		if errors.As(err, &connErr) {
			fmt.Fprintf(os.Stderr, "sizeview: %v\n", connErr)
		}
		appLog.Error().Err(err).Msg("Session ended with error")
		for _, entry := range log.Sink().Last(5) {
			fmt.Fprintf(os.Stderr, "  %s %s: %s\n", entry.Level, entry.Component, entry.Message)
		}
		os.Exit(1)
	}

	appLog.Info().Msg("Sizeview stopped")
}
