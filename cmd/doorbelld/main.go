// Package main implements the doorbelld daemon, the smart-doorbell
// firmware's top-level process.
//
// doorbelld is designed for 24/7 unattended operation: it mounts local
// storage, provisions itself over BLE on first boot, synchronizes its wall
// clock against NTP, then runs audio/video capture, local recording,
// retention, live streaming, the MQTT control plane, and the doorbell
// button loop under a two-level supervisor tree until terminated.
//
// Usage:
//
//	doorbelld [options]
//
// Options:
//
//	--config=PATH   Path to config file (default: /etc/doorbelld/config.yaml)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help          Show this help message
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/lifecycle"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = pflag.String("config", config.ConfigFilePath, "Path to configuration file")
	logLevel   = pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = pflag.BoolP("help", "h", false, "Show help message")
)

func main() {
	pflag.Parse()

	if *showHelp {
		pflag.Usage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	logger.Info("doorbelld starting", "version", Version, "commit", Commit, "built", BuildTime)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := lifecycle.Build(ctx, cfg, lifecycle.Deps{}, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("doorbelld started, entering run loop")
	if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("run loop exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfiguration loads the config file, falling back to defaults if it
// doesn't exist yet (first boot, before provisioning has written one).
func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch s {
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
