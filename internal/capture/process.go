package capture

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/offlog/internal/models"
)

// ProcessFunc uploads or analyzes one capture. A nil error means the capture
// was handled and may be removed from the queue.
type ProcessFunc func(ctx context.Context, item *models.QueuedCapture) error

// ProcessResult summarizes a Process pass.
type ProcessResult struct {
	Processed int
	Failed    int
}

// Process hands each queued or previously failed capture to fn, one at a
// time. Handled captures are removed; captures fn rejects are marked failed
// and kept for a later pass. Captures already marked processing belong to
// another consumer and are skipped.
func (q *Queue) Process(ctx context.Context, fn ProcessFunc) (ProcessResult, error) {
	var res ProcessResult

	items, err := q.List(ctx)
	if err != nil {
		return res, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if item.Status == models.CaptureProcessing {
			continue
		}
		if item.Blob == nil {
			q.logger.Warn("skipping capture without blob", "id", item.ID)
			continue
		}

		if err := q.SetStatus(ctx, item.ID, models.CaptureProcessing); err != nil {
			return res, fmt.Errorf("mark capture %s processing: %w", item.ID, err)
		}

		if err := fn(ctx, item); err != nil {
			res.Failed++
			q.logger.Warn("capture processing failed", "id", item.ID, "error", err)
			if err := q.SetStatus(ctx, item.ID, models.CaptureFailed); err != nil {
				return res, fmt.Errorf("mark capture %s failed: %w", item.ID, err)
			}
			continue
		}

		if err := q.Remove(ctx, item.ID); err != nil {
			return res, err
		}
		res.Processed++
	}
	return res, nil
}
