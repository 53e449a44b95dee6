package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/offlog/internal/models"
)

// DrainStore is the persistence a drain reads from and deletes in.
type DrainStore interface {
	ListMutations(ctx context.Context) ([]*models.QueuedMutation, error)
	DeleteMutation(ctx context.Context, id int64) error
}

// DrainResult lists the ids a drain pass removed and the ids it left queued.
type DrainResult struct {
	Removed []int64
	Failed  []int64
}

// Attempted returns how many mutations the pass tried to replay.
func (r DrainResult) Attempted() int {
	return len(r.Removed) + len(r.Failed)
}

// Drain replays every queued mutation in ascending id order, one at a time.
// A mutation is deleted only after its replay succeeds; a failed replay is
// logged and left for the next pass without stopping this one. The returned
// error covers only listing failures and context cancellation.
func Drain(ctx context.Context, st DrainStore, r Replayer, logger *slog.Logger) (DrainResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res DrainResult

	queued, err := st.ListMutations(ctx)
	if err != nil {
		return res, fmt.Errorf("list queued mutations: %w", err)
	}

	for _, m := range queued {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := r.Replay(ctx, m); err != nil {
			logger.Warn("replay failed, keeping mutation queued", "id", m.ID, "url", m.URL, "error", err)
			res.Failed = append(res.Failed, m.ID)
			continue
		}

		if err := st.DeleteMutation(ctx, m.ID); err != nil {
			// Delivered but still stored: it will be sent again next pass.
			logger.Error("replayed mutation could not be removed", "id", m.ID, "error", err)
			res.Failed = append(res.Failed, m.ID)
			continue
		}
		logger.Debug("mutation replayed", "id", m.ID, "url", m.URL)
		res.Removed = append(res.Removed, m.ID)
	}

	return res, nil
}
