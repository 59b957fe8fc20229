// Command polyexec turns natural-language order requests into Polymarket CLOB
// orders. It loads configuration, validates it, wires dependencies, sets up
// signal handling and runs the configured mode: an HTTP API ("serve") or a
// single request from the command line ("once").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/polyexec/internal/app"
	"github.com/alanyoungcy/polyexec/internal/config"
	"github.com/alanyoungcy/polyexec/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, once)")
	text := flag.String("text", "", "order text for once mode")
	user := flag.String("user", "", "user id for once mode")
	encryptKey := flag.String("encrypt-key", "", "encrypt POLYEXEC_WALLET_PRIVATE_KEY with POLYEXEC_WALLET_KEY_PASSWORD into this file and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeKeyFile(*encryptKey); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polyexec starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx, app.OnceRequest{UserID: *user, Text: *text, Out: os.Stdout})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("polyexec stopped")
}

// writeKeyFile seals the private key from the environment (or .env) into path.
func writeKeyFile(path string) error {
	_ = godotenv.Load()
	key := os.Getenv("POLYEXEC_WALLET_PRIVATE_KEY")
	password := os.Getenv("POLYEXEC_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("POLYEXEC_WALLET_PRIVATE_KEY and POLYEXEC_WALLET_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
