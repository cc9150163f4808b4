// Command predex is the entry point for predexchange. It loads configuration,
// validates it, sets up logging and signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/predexchange/internal/app"
	"github.com/alanyoungcy/predexchange/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	profile := flag.String("profile", "", "overlay <config dir>/<profile>.toml on top of the base file")
	mode := flag.String("mode", "", "override the configured mode (serve, record, simulate, export)")
	flag.Parse()

	// Bootstrap logger until the configured one is ready.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath, *profile)
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

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("predex starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.String("profile", *profile),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			closeLog()
			os.Exit(1)
		}
	}

	logger.Info("predex stopped")
}

// newLogger builds the slog logger from the log section. When a file is set,
// records go to stdout and to a rotating file.
func newLogger(cfg config.LogConfig) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stdout, rot)
		closeFn = func() { _ = rot.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts)), closeFn
	}
	return slog.New(slog.NewJSONHandler(out, opts)), closeFn
}
