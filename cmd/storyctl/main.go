// Command storyctl administers stories directly against the SQL store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pburglin/EpicSagaBuilder/internal/config"
	"github.com/pburglin/EpicSagaBuilder/internal/logger"
	"github.com/pburglin/EpicSagaBuilder/internal/storage"
	pkgstorage "github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	// Only warnings and errors reach the terminal.
	if cfg.LogLevel < slog.LevelWarn {
		cfg.LogLevel = slog.LevelWarn
	}
	log := logger.New(cfg, os.Stderr)

	open := func(path string) (pkgstorage.Storage, error) {
		return storage.NewSQLStore(path, log)
	}

	if err := newRootCmd(cfg.DatabasePath, open).Execute(); err != nil {
		os.Exit(1)
	}
}
