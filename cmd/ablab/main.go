package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adelgado/ablab/config"
	"github.com/adelgado/ablab/internal/adapters/notify"
	"github.com/adelgado/ablab/internal/adapters/storage"
	"github.com/adelgado/ablab/internal/application/engine"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	simulate := flag.Bool("simulate", false, "run a demo experiment end to end")
	insights := flag.String("insights", "", "print stored insights for the given owner id")
	memory := flag.Bool("memory", false, "use in-memory storage instead of the configured DSN")
	verbose := flag.Bool("verbose", false, "set log level to debug and print full tables")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to load config", "err", err, "path", *configPath)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	dsn := cfg.Storage.DSN
	if *memory {
		dsn = ":memory:"
	}
	store, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", dsn)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*verbose)

	eng := engine.New(engine.Config{
		MinTestDuration: cfg.MinTestDuration(),
	}, store, console, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *simulate:
		if err := runSimulation(ctx, eng, console, cfg); err != nil {
			slog.Error("simulation failed", "err", err)
			os.Exit(1)
		}
	case *insights != "":
		ins, err := eng.GetInsights(ctx, *insights, "")
		if err != nil {
			slog.Error("insights failed", "err", err, "owner", *insights)
			os.Exit(1)
		}
		console.PrintInsights(ins)
	default:
		flag.Usage()
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
