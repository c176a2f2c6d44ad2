package main

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/keeper/config"
	"github.com/alejandrodnm/keeper/internal/adapters/notify"
	"github.com/alejandrodnm/keeper/internal/adapters/storage"
)

// runReport prints the execution journal. The config is only consulted for
// the database path, so a config without chain credentials is fine here.
func runReport(configPath, dsn string, limit int) int {
	if dsn == "" {
		dsn = "keeper.db"
		if cfg, err := config.Load(configPath); err == nil {
			dsn = cfg.Storage.DSN
			setupLogger(cfg.Log)
		} else {
			slog.Warn("config not usable, falling back to default journal", "err", err, "dsn", dsn)
		}
	}

	journal, err := storage.NewSQLiteJournal(dsn)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", dsn)
		return 1
	}
	defer journal.Close()

	if err := notify.NewConsole().Report(context.Background(), journal, limit); err != nil {
		slog.Error("report failed", "err", err)
		return 1
	}
	return 0
}
