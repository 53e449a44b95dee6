package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testMutation(body string) *models.QueuedMutation {
	return &models.QueuedMutation{
		URL:      "http://localhost/api/log-food",
		Headers:  []models.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:     body,
		QueuedAt: time.Now().UTC(),
	}
}

func testCapture(id, checksum string) *models.QueuedCapture {
	return &models.QueuedCapture{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		MimeType:  "image/jpeg",
		Status:    models.CaptureQueued,
		Checksum:  checksum,
		Size:      3,
	}
}

// ==================== Store Tests ====================

func TestStore_GetSetValue(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SetValue("test_key", "test_value"))

	val, err := st.GetValue("test_key")
	require.NoError(t, err)
	assert.Equal(t, "test_value", val)

	val, err = st.GetValue("nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := New(dbPath)
	require.NoError(t, err)
	_, err = st.AddMutation(ctx, testMutation(`{"a":1}`))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	n, err := st.CountMutations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// ==================== Mutation Tests ====================

func TestStore_AddMutation_AssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := testMutation("a")
	b := testMutation("b")
	idA, err := st.AddMutation(ctx, a)
	require.NoError(t, err)
	idB, err := st.AddMutation(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, idA, a.ID)
	assert.Greater(t, idB, idA)
}

func TestStore_ListMutations_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Enough entries that lexical and numeric ordering would differ for
	// decimal keys.
	for i := 0; i < 12; i++ {
		_, err := st.AddMutation(ctx, testMutation(string(rune('a'+i))))
		require.NoError(t, err)
	}

	muts, err := st.ListMutations(ctx)
	require.NoError(t, err)
	require.Len(t, muts, 12)
	for i := 1; i < len(muts); i++ {
		assert.Less(t, muts[i-1].ID, muts[i].ID)
	}
	assert.Equal(t, "a", muts[0].Body)
	assert.Equal(t, "l", muts[11].Body)
	assert.Equal(t, "application/json", muts[0].Headers[0].Value)
}

func TestStore_DeleteMutation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.AddMutation(ctx, testMutation("x"))
	require.NoError(t, err)

	require.NoError(t, st.DeleteMutation(ctx, id))
	require.NoError(t, st.DeleteMutation(ctx, id)) // absent is fine

	n, err := st.CountMutations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_DeletedIDsAreNotReused(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id1, err := st.AddMutation(ctx, testMutation("1"))
	require.NoError(t, err)
	require.NoError(t, st.DeleteMutation(ctx, id1))

	id2, err := st.AddMutation(ctx, testMutation("2"))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)
}

// ==================== Capture Tests ====================

func TestStore_InsertCaptureIfAbsent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	got, inserted, err := st.InsertCaptureIfAbsent(ctx, testCapture("c1", "sum"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "c1", got.ID)

	got, inserted, err = st.InsertCaptureIfAbsent(ctx, testCapture("c2", "sum"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "c1", got.ID)

	n, err := st.CountCaptures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_UpdateCaptureStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, _, err := st.InsertCaptureIfAbsent(ctx, testCapture("c1", "sum"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateCaptureStatus(ctx, "c1", models.CaptureProcessing))
	c, err := st.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CaptureProcessing, c.Status)
	assert.Equal(t, "sum", c.Checksum)

	err = st.UpdateCaptureStatus(ctx, "missing", models.CaptureFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteCapture_FreesChecksum(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, _, err := st.InsertCaptureIfAbsent(ctx, testCapture("c1", "sum"))
	require.NoError(t, err)

	deleted, err := st.DeleteCapture(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "sum", deleted.Checksum)

	deleted, err = st.DeleteCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	_, err = st.CaptureByChecksum(ctx, "sum")
	assert.ErrorIs(t, err, ErrNotFound)

	_, inserted, err := st.InsertCaptureIfAbsent(ctx, testCapture("c2", "sum"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestStore_ListCaptures(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, id := range []string{"b", "a", "c"} {
		_, _, err := st.InsertCaptureIfAbsent(ctx, testCapture(id, "sum-"+id))
		require.NoError(t, err)
	}

	list, err := st.ListCaptures(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
}
