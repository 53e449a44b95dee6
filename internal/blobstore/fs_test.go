package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFSStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("\xff\xd8\xff\xe0 jpeg bytes")
	hash := Checksum(data)

	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data)))

	reader, err := s.Get(ctx, hash)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSStore_Has(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.Has(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, has)

	data := []byte("photo")
	hash := Checksum(data)
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data)))

	has, err = s.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFSStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("same bytes")
	hash := Checksum(data)
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data)))
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data)))
}

func TestFSStore_HashMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	wrong := Checksum([]byte("other"))
	err := s.Put(ctx, wrong, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrHashMismatch)

	has, err := s.Has(ctx, wrong)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFSStore_InvalidHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assert.Error(t, s.Put(ctx, "../escape", bytes.NewReader([]byte("x"))))

	_, err := s.Get(ctx, "../escape")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("gone soon")
	hash := Checksum(data)
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data)))

	require.NoError(t, s.Delete(ctx, hash))
	require.NoError(t, s.Delete(ctx, hash))

	_, err := s.Get(ctx, hash)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
