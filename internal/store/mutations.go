package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/offlog/internal/models"
	bolt "go.etcd.io/bbolt"
)

// mutationKey encodes an id as 8 big-endian bytes so cursor order matches
// insertion order.
func mutationKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

// AddMutation persists a mutation in a single transaction. The store assigns
// the id from the bucket sequence and writes it back into m.
func (s *Store) AddMutation(_ context.Context, m *models.QueuedMutation) (int64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMutations)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next mutation id: %w", err)
		}

		rec := *m
		rec.ID = int64(seq)
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal mutation: %w", err)
		}
		if err := b.Put(mutationKey(rec.ID), data); err != nil {
			return err
		}
		m.ID = rec.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// ListMutations returns every queued mutation in ascending id order.
func (s *Store) ListMutations(_ context.Context) ([]*models.QueuedMutation, error) {
	var out []*models.QueuedMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutations).ForEach(func(_, v []byte) error {
			var m models.QueuedMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshal mutation: %w", err)
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

// DeleteMutation removes a mutation. Deleting a missing id is not an error.
func (s *Store) DeleteMutation(_ context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutations).Delete(mutationKey(id))
	})
}

// CountMutations returns the number of queued mutations.
func (s *Store) CountMutations(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketMutations).Stats().KeyN
		return nil
	})
	return n, err
}
