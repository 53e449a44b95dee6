package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ store.Backend = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_Migrations(t *testing.T) {
	st := newTestStore(t)

	version, err := st.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	// Running again is a no-op.
	require.NoError(t, st.RunMigrations())
}

func TestStore_MutationRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	queuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &models.QueuedMutation{
		URL: "http://localhost/api/log-food",
		Headers: []models.Header{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "X-Trace", Value: "1"},
			{Name: "X-Trace", Value: "2"},
		},
		Body:      `{"foodName":"Apple","weight":150}`,
		RequestID: "req-1",
		QueuedAt:  queuedAt,
	}
	id, err := st.AddMutation(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id, in.ID)

	_, err = st.AddMutation(ctx, &models.QueuedMutation{URL: "http://localhost/api/log-food", Body: "second", QueuedAt: queuedAt})
	require.NoError(t, err)

	list, err := st.ListMutations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, in.Headers, list[0].Headers)
	assert.Equal(t, in.Body, list[0].Body)
	assert.Equal(t, "req-1", list[0].RequestID)
	assert.True(t, queuedAt.Equal(list[0].QueuedAt))
	assert.Equal(t, "second", list[1].Body)

	require.NoError(t, st.DeleteMutation(ctx, id))
	n, err := st.CountMutations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_CaptureLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	c := &models.QueuedCapture{
		ID:        "c1",
		CreatedAt: time.Now().UTC(),
		MimeType:  "image/png",
		Status:    models.CaptureQueued,
		Checksum:  "abc",
		Size:      10,
		Filename:  "lunch.png",
	}
	_, inserted, err := st.InsertCaptureIfAbsent(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *c
	dup.ID = "c2"
	got, inserted, err := st.InsertCaptureIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "c1", got.ID)

	require.NoError(t, st.UpdateCaptureStatus(ctx, "c1", models.CaptureFailed))
	got, err = st.GetCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CaptureFailed, got.Status)
	assert.Equal(t, "lunch.png", got.Filename)

	assert.ErrorIs(t, st.UpdateCaptureStatus(ctx, "nope", models.CaptureQueued), store.ErrNotFound)

	deleted, err := st.DeleteCapture(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, deleted)

	deleted, err = st.DeleteCapture(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	n, err := st.CountCaptures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_GetSetValue(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SetValue("k", "v1"))
	require.NoError(t, st.SetValue("k", "v2"))
	v, err := st.GetValue("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	v, err = st.GetValue("missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestStore_ListCapturesInTimeOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	later := &models.QueuedCapture{ID: "a-later", CreatedAt: base.Add(500 * time.Millisecond),
		MimeType: "image/jpeg", Status: models.CaptureQueued, Checksum: "c2"}
	earlier := &models.QueuedCapture{ID: "b-earlier", CreatedAt: base,
		MimeType: "image/jpeg", Status: models.CaptureQueued, Checksum: "c1"}

	_, _, err := st.InsertCaptureIfAbsent(ctx, later)
	require.NoError(t, err)
	_, _, err = st.InsertCaptureIfAbsent(ctx, earlier)
	require.NoError(t, err)

	items, err := st.ListCaptures(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b-earlier", items[0].ID)
	assert.Equal(t, "a-later", items[1].ID)
	assert.True(t, items[0].CreatedAt.Equal(base))
}
