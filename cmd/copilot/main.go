package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/geflip/config"
	"github.com/alejandrodnm/geflip/internal/adapters/ledger"
	"github.com/alejandrodnm/geflip/internal/adapters/notify"
	"github.com/alejandrodnm/geflip/internal/adapters/storage"
	"github.com/alejandrodnm/geflip/internal/application/reconcile"
	"github.com/alejandrodnm/geflip/internal/application/sequencer"
	"github.com/alejandrodnm/geflip/internal/application/session"
	"github.com/alejandrodnm/geflip/internal/ports"
	"github.com/alejandrodnm/geflip/internal/resilience"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	replayPath := flag.String("replay", "", "replay a recorded JSONL event file instead of reading stdin (dry run, no ledger writes)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	replay := *replayPath != ""
	slog.Info("geflip starting",
		"config", *configPath,
		"identity", cfg.Copilot.Identity,
		"replay", replay,
	)

	var ledgerSvc ports.LedgerService
	dsn := cfg.Storage.DSN
	if replay {
		// Un replay nunca escribe al backend ni ensucia los snapshots reales.
		ledgerSvc = ledger.Discard{}
		dsn = ":memory:"
	} else {
		ledgerSvc = ledger.NewClient(cfg.Ledger.Base, cfg.Ledger.APIKey, cfg.LedgerTimeout())
	}

	store, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", dsn)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()
	defer console.Close()

	sess := session.New(cfg.Copilot.Identity)
	breaker := resilience.NewBreaker(cfg.Copilot.BreakerFailureThreshold, cfg.BreakerRecovery())
	oracle := newInventoryState()
	seq := sequencer.New(sess, console, cfg.InactiveOfferAge())
	rec := reconcile.NewOfferReconciler(sess, ledgerSvc, breaker, oracle, console, seq)

	a := &app{
		cfg:     cfg,
		session: sess,
		rec:     rec,
		seq:     seq,
		store:   store,
		console: console,
		oracle:  oracle,
		ledger:  ledgerSvc,
		breaker: breaker,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var in io.Reader = os.Stdin
	if replay {
		f, err := os.Open(*replayPath)
		if err != nil {
			slog.Error("failed to open replay file", "err", err, "path", *replayPath)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := a.run(ctx, in); err != nil {
		slog.Error("copilot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("geflip stopped cleanly")
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
