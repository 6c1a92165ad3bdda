package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"log/slog"

	"github.com/lmittmann/tint"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/connection"
	"github.com/czpavel/visionfeed/internal/journal"
	"github.com/czpavel/visionfeed/internal/runner"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)

	// Parse command line arguments
	configPath := "visionfeed.yaml"
	once := false
	initSchema := false

	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--config":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				i++
			}
		case "--once":
			once = true
		case "--init-schema":
			initSchema = true
		case "--help":
			fmt.Println("Usage: visionfeed [--config path/to/visionfeed.yaml] [--once] [--init-schema]")
			return
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if once {
		cfg.Behavior.RunMode = "once"
	}

	if initSchema {
		if cfg.Journal.Backend != "postgres" {
			logger.Error("--init-schema requires journal.backend=postgres")
			os.Exit(1)
		}
		if err := journal.InitPostgresSchema(ctx, cfg.Journal.PostgresDSN); err != nil {
			logger.Error("failed to init journal schema", "error", err)
			os.Exit(1)
		}
		logger.Info("journal schema initialized")
		return
	}

	jw, err := buildJournal(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open journal", "error", err)
		os.Exit(1)
	}
	defer jw.Close()

	conn := connection.NewManager(cfg, logger, nil)
	if err := conn.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	if !conn.IsConnected() {
		logger.Error("server not reachable", "state", string(conn.State()))
		os.Exit(1)
	}

	run := runner.New(cfg, conn, jw, nil, logger)
	if err := run.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline running", "run_id", run.RunID(), "mode", cfg.Behavior.RunMode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("stop requested")
	case <-run.Done():
		logger.Info("source exhausted")
	}

	run.Stop()
	conn.Disconnect(context.Background())

	snap := conn.Snapshot()
	logger.Info("run finished",
		"sent", snap.TotalSent,
		"evaluated", snap.TotalEvaluated,
		"ok", snap.OKCount,
		"nok", snap.NOKCount,
		"avg_eval_ms", snap.AvgEvalTimeMS,
	)
}

func buildJournal(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (journal.Writer, error) {
	jsonl, err := journal.NewJSONL(filepath.Join(cfg.Journal.Directory, cfg.Journal.JSONLFilename))
	if err != nil {
		return nil, err
	}
	writers := []journal.Writer{jsonl}

	switch cfg.Journal.Backend {
	case "sqlite":
		store, err := journal.OpenSQLite(cfg.Journal.SQLitePath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, store)
	case "postgres":
		store, err := journal.NewPostgres(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, err
		}
		writers = append(writers, store)
	}
	return journal.NewMulti(logger, writers...), nil
}
