package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/offlog/internal/models"
	bolt "go.etcd.io/bbolt"
)

// InsertCaptureIfAbsent stores c unless a capture with the same checksum is
// already present. The lookup and the insert share one transaction. When a
// match exists it is returned with inserted=false and nothing is written.
func (s *Store) InsertCaptureIfAbsent(_ context.Context, c *models.QueuedCapture) (*models.QueuedCapture, bool, error) {
	var existing *models.QueuedCapture
	err := s.db.Update(func(tx *bolt.Tx) error {
		captures := tx.Bucket(bucketCaptures)
		index := tx.Bucket(bucketCaptureChecksums)

		if id := index.Get([]byte(c.Checksum)); id != nil {
			if v := captures.Get(id); v != nil {
				var found models.QueuedCapture
				if err := json.Unmarshal(v, &found); err != nil {
					return fmt.Errorf("unmarshal capture: %w", err)
				}
				existing = &found
				return nil
			}
			// Dangling index entry; fall through and overwrite it.
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal capture: %w", err)
		}
		if err := captures.Put([]byte(c.ID), data); err != nil {
			return err
		}
		return index.Put([]byte(c.Checksum), []byte(c.ID))
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return c, true, nil
}

// GetCapture returns a capture by id, or ErrNotFound.
func (s *Store) GetCapture(_ context.Context, id string) (*models.QueuedCapture, error) {
	var c *models.QueuedCapture
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCaptures).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		c = new(models.QueuedCapture)
		return json.Unmarshal(v, c)
	})
	return c, err
}

// CaptureByChecksum returns the live capture with the given checksum, or
// ErrNotFound.
func (s *Store) CaptureByChecksum(_ context.Context, checksum string) (*models.QueuedCapture, error) {
	var c *models.QueuedCapture
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCaptureChecksums).Get([]byte(checksum))
		if id == nil {
			return ErrNotFound
		}
		v := tx.Bucket(bucketCaptures).Get(id)
		if v == nil {
			return ErrNotFound
		}
		c = new(models.QueuedCapture)
		return json.Unmarshal(v, c)
	})
	return c, err
}

// ListCaptures returns all captures in key order. Capture ids are UUIDv7, so
// key order is creation order.
func (s *Store) ListCaptures(_ context.Context) ([]*models.QueuedCapture, error) {
	var out []*models.QueuedCapture
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCaptures).ForEach(func(_, v []byte) error {
			var c models.QueuedCapture
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshal capture: %w", err)
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

// UpdateCaptureStatus rewrites only the status of a capture. Returns
// ErrNotFound when the id does not exist.
func (s *Store) UpdateCaptureStatus(_ context.Context, id string, status models.CaptureStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCaptures)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		var c models.QueuedCapture
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("unmarshal capture: %w", err)
		}
		c.Status = status
		data, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("marshal capture: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

// DeleteCapture removes a capture and its checksum index entry. It returns the
// deleted record, or nil when the id was already gone.
func (s *Store) DeleteCapture(_ context.Context, id string) (*models.QueuedCapture, error) {
	var deleted *models.QueuedCapture
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCaptures)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var c models.QueuedCapture
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("unmarshal capture: %w", err)
		}

		index := tx.Bucket(bucketCaptureChecksums)
		if owner := index.Get([]byte(c.Checksum)); owner != nil && string(owner) == id {
			if err := index.Delete([]byte(c.Checksum)); err != nil {
				return err
			}
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		deleted = &c
		return nil
	})
	return deleted, err
}

// CountCaptures returns the number of queued captures.
func (s *Store) CountCaptures(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketCaptures).Stats().KeyN
		return nil
	})
	return n, err
}
