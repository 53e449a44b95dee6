package cli

import (
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/offlog/internal/blobstore"
	"github.com/kilupskalvis/offlog/internal/capture"
	"github.com/kilupskalvis/offlog/internal/config"
	"github.com/kilupskalvis/offlog/internal/store"
	"github.com/kilupskalvis/offlog/internal/store/sqlitestore"
)

// openStore opens the backend selected by cfg.Store.Driver.
func openStore(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return sqlitestore.New(cfg.DatabasePath())
	case config.DriverBolt:
		return store.New(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openCaptureQueue builds the capture queue over st and the blob directory.
func openCaptureQueue(cfg *config.Config, st store.Backend, logger *slog.Logger) (*capture.Queue, error) {
	blobs, err := blobstore.NewFSStore(cfg.BlobsPath())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return capture.New(st, blobs, logger), nil
}
