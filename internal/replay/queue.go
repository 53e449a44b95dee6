package replay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kilupskalvis/offlog/internal/models"
)

// Store is the full mutation persistence used by a Queue.
type Store interface {
	MutationStore
	DrainStore
	CountMutations(ctx context.Context) (int, error)
}

// Queue guards Drain so that only one pass runs at a time in this process.
type Queue struct {
	store    Store
	replayer Replayer
	logger   *slog.Logger
	draining atomic.Bool
}

// NewQueue creates a queue that replays through r.
func NewQueue(st Store, r Replayer, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    st,
		replayer: r,
		logger:   logger.With("component", "replay-queue"),
	}
}

// Drain runs one pass over the queue. It returns ErrDrainInProgress right
// away when another pass is still running.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	res, err := Drain(ctx, q.store, q.replayer, q.logger)
	if res.Attempted() > 0 {
		q.logger.Info("drain finished", "removed", len(res.Removed), "failed", len(res.Failed))
	}
	return res, err
}

// List returns the queued mutations in replay order.
func (q *Queue) List(ctx context.Context) ([]*models.QueuedMutation, error) {
	return q.store.ListMutations(ctx)
}

// Pending returns how many mutations are waiting for replay.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.store.CountMutations(ctx)
}
