// Package capture buffers photo captures locally until the analyze/upload
// pipeline has processed them. Captures are deduplicated by the SHA-256 of
// their bytes, so the same image is never queued twice.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/kilupskalvis/offlog/internal/blobstore"
	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/store"
)

// DefaultMimeType is used when the caller gives no type and sniffing fails.
const DefaultMimeType = "image/jpeg"

// ErrInvalidStatus is returned by SetStatus for values outside the known set.
var ErrInvalidStatus = errors.New("invalid capture status")

// Store is the persistence the capture queue needs.
type Store interface {
	InsertCaptureIfAbsent(ctx context.Context, c *models.QueuedCapture) (*models.QueuedCapture, bool, error)
	CaptureByChecksum(ctx context.Context, checksum string) (*models.QueuedCapture, error)
	ListCaptures(ctx context.Context) ([]*models.QueuedCapture, error)
	UpdateCaptureStatus(ctx context.Context, id string, status models.CaptureStatus) error
	DeleteCapture(ctx context.Context, id string) (*models.QueuedCapture, error)
	CountCaptures(ctx context.Context) (int, error)
}

// Result is the outcome of an Enqueue call.
type Result struct {
	Item      *models.QueuedCapture
	Duplicate bool
}

// EnqueueOption sets optional fields on a new capture.
type EnqueueOption func(*models.QueuedCapture)

// WithFilename records the original file name. It is informational only and
// plays no part in deduplication.
func WithFilename(name string) EnqueueOption {
	return func(c *models.QueuedCapture) {
		c.Filename = name
	}
}

// Queue is the page-side capture buffer.
type Queue struct {
	store  Store
	blobs  blobstore.BlobStore
	logger *slog.Logger
	now    func() time.Time

	// mu makes checksum, lookup and insert one unit for callers sharing
	// this Queue. Separate processes may still race into a benign duplicate.
	mu sync.Mutex
}

// New creates a capture queue over the given record store and blob store.
func New(st Store, blobs blobstore.BlobStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  st,
		blobs:  blobs,
		logger: logger.With("component", "capture-queue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue buffers blob unless identical content is already queued, in which
// case the existing entry is returned with Duplicate set and nothing is
// written.
func (q *Queue) Enqueue(ctx context.Context, blob []byte, mimeType string, opts ...EnqueueOption) (*Result, error) {
	checksum := blobstore.Checksum(blob)

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.store.CaptureByChecksum(ctx, checksum)
	if err == nil {
		existing.Blob = blob
		q.logger.Debug("capture already queued", "id", existing.ID, "checksum", checksum)
		return &Result{Item: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up capture: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate capture id: %w", err)
	}

	item := &models.QueuedCapture{
		ID:        id.String(),
		CreatedAt: q.now(),
		MimeType:  resolveMimeType(blob, mimeType),
		Status:    models.CaptureQueued,
		Checksum:  checksum,
		Size:      int64(len(blob)),
	}
	for _, opt := range opts {
		opt(item)
	}

	if err := q.blobs.Put(ctx, checksum, bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("store capture blob: %w", err)
	}

	stored, inserted, err := q.store.InsertCaptureIfAbsent(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	stored.Blob = blob
	if !inserted {
		return &Result{Item: stored, Duplicate: true}, nil
	}

	q.logger.Info("capture queued", "id", stored.ID, "mime_type", stored.MimeType, "size", stored.Size)
	return &Result{Item: stored}, nil
}

// List returns every queued capture with its blob loaded. A capture whose
// blob is missing is still returned, with a nil Blob.
func (q *Queue) List(ctx context.Context) ([]*models.QueuedCapture, error) {
	items, err := q.store.ListCaptures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	for _, item := range items {
		data, err := q.readBlob(ctx, item.Checksum)
		if err != nil {
			q.logger.Warn("capture blob unavailable", "id", item.ID, "error", err)
			continue
		}
		item.Blob = data
	}
	return items, nil
}

// SetStatus updates the status of a capture. A missing id is a silent no-op,
// since the entry may have been removed concurrently.
func (q *Queue) SetStatus(ctx context.Context, id string, status models.CaptureStatus) error {
	if _, err := models.ParseCaptureStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	err := q.store.UpdateCaptureStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Remove deletes a capture. Removing an absent id is not an error. The blob
// is dropped once no live capture refers to it.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	deleted, err := q.store.DeleteCapture(ctx, id)
	if err != nil {
		return fmt.Errorf("delete capture %s: %w", id, err)
	}
	if deleted == nil {
		return nil
	}

	if _, err := q.store.CaptureByChecksum(ctx, deleted.Checksum); errors.Is(err, store.ErrNotFound) {
		if err := q.blobs.Delete(ctx, deleted.Checksum); err != nil {
			q.logger.Warn("failed to delete capture blob", "id", id, "checksum", deleted.Checksum, "error", err)
		}
	}
	q.logger.Debug("capture removed", "id", id)
	return nil
}

// Count returns the number of queued captures, for "N photos queued" badges.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.CountCaptures(ctx)
}

func (q *Queue) readBlob(ctx context.Context, checksum string) ([]byte, error) {
	r, err := q.blobs.Get(ctx, checksum)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// resolveMimeType keeps an explicit type, otherwise sniffs the content and
// falls back to DefaultMimeType.
func resolveMimeType(blob []byte, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	detected := mimetype.Detect(blob)
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		return DefaultMimeType
	}
	return detected.String()
}
