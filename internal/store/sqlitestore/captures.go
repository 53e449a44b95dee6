package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/store"
)

const captureColumns = "id, created_at, mime_type, status, checksum, size, filename"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (*models.QueuedCapture, error) {
	var c models.QueuedCapture
	var createdAt, status string
	if err := row.Scan(&c.ID, &createdAt, &c.MimeType, &status, &c.Checksum, &c.Size, &c.Filename); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTimestamp(createdAt)
	c.Status = models.CaptureStatus(status)
	return &c, nil
}

// InsertCaptureIfAbsent stores c unless a capture with the same checksum is
// already present, in which case the existing record is returned with
// inserted=false. Another process winning the race on the UNIQUE checksum
// column is reported the same way.
func (s *Store) InsertCaptureIfAbsent(ctx context.Context, c *models.QueuedCapture) (*models.QueuedCapture, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanCapture(tx.QueryRowContext(ctx,
		"SELECT "+captureColumns+" FROM captures WHERE checksum = ?", c.Checksum))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO captures (`+captureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, formatTimestamp(c.CreatedAt), c.MimeType, string(c.Status), c.Checksum, c.Size, c.Filename)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			tx.Rollback()
			existing, lookupErr := s.CaptureByChecksum(ctx, c.Checksum)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert capture: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit capture: %w", err)
	}
	return c, true, nil
}

// GetCapture returns a capture by id, or store.ErrNotFound.
func (s *Store) GetCapture(ctx context.Context, id string) (*models.QueuedCapture, error) {
	c, err := scanCapture(s.db.QueryRowContext(ctx,
		"SELECT "+captureColumns+" FROM captures WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// CaptureByChecksum returns the live capture with the given checksum, or
// store.ErrNotFound.
func (s *Store) CaptureByChecksum(ctx context.Context, checksum string) (*models.QueuedCapture, error) {
	c, err := scanCapture(s.db.QueryRowContext(ctx,
		"SELECT "+captureColumns+" FROM captures WHERE checksum = ?", checksum))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ListCaptures returns all captures ordered by creation time.
func (s *Store) ListCaptures(ctx context.Context) ([]*models.QueuedCapture, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+captureColumns+" FROM captures ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueuedCapture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCaptureStatus rewrites only the status of a capture. Returns
// store.ErrNotFound when the id does not exist.
func (s *Store) UpdateCaptureStatus(ctx context.Context, id string, status models.CaptureStatus) error {
	result, err := s.db.ExecContext(ctx, "UPDATE captures SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteCapture removes a capture and returns the deleted record, or nil when
// the id was already gone.
func (s *Store) DeleteCapture(ctx context.Context, id string) (*models.QueuedCapture, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCapture(tx.QueryRowContext(ctx,
		"SELECT "+captureColumns+" FROM captures WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM captures WHERE id = ?", id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit capture delete: %w", err)
	}
	return c, nil
}

// CountCaptures returns the number of queued captures.
func (s *Store) CountCaptures(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n)
	return n, err
}
