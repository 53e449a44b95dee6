package store

import (
	"context"

	"github.com/kilupskalvis/offlog/internal/models"
)

// Backend is the full set of operations a persistent store offers. Both the
// bbolt Store and the SQLite store implement it.
type Backend interface {
	AddMutation(ctx context.Context, m *models.QueuedMutation) (int64, error)
	ListMutations(ctx context.Context) ([]*models.QueuedMutation, error)
	DeleteMutation(ctx context.Context, id int64) error
	CountMutations(ctx context.Context) (int, error)

	InsertCaptureIfAbsent(ctx context.Context, c *models.QueuedCapture) (*models.QueuedCapture, bool, error)
	GetCapture(ctx context.Context, id string) (*models.QueuedCapture, error)
	CaptureByChecksum(ctx context.Context, checksum string) (*models.QueuedCapture, error)
	ListCaptures(ctx context.Context) ([]*models.QueuedCapture, error)
	UpdateCaptureStatus(ctx context.Context, id string, status models.CaptureStatus) error
	DeleteCapture(ctx context.Context, id string) (*models.QueuedCapture, error)
	CountCaptures(ctx context.Context) (int, error)

	GetValue(key string) (string, error)
	SetValue(key, value string) error
	Close() error
}

var _ Backend = (*Store)(nil)
