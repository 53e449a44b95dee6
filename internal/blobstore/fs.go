package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// checksumPattern matches the key format produced by Checksum.
var checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FSStore keeps each blob in its own file under root/<first two hex chars>/.
type FSStore struct {
	root string
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Has reports whether a blob is stored. Malformed keys are never present.
func (s *FSStore) Has(_ context.Context, hash string) (bool, error) {
	if !checksumPattern.MatchString(hash) {
		return false, nil
	}
	switch _, err := os.Stat(s.path(hash)); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat blob %s: %w", hash, err)
	}
}

// Get opens a blob for reading. Returns ErrBlobNotFound for unknown or
// malformed keys.
func (s *FSStore) Get(_ context.Context, hash string) (io.ReadCloser, error) {
	if !checksumPattern.MatchString(hash) {
		return nil, ErrBlobNotFound
	}
	f, err := os.Open(s.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", hash, err)
	}
	return f, nil
}

// Put stores the bytes read from r under hash. The content is hashed while it
// is written to a temp file and only renamed into place when it matches.
// A blob that already exists is left untouched.
func (s *FSStore) Put(_ context.Context, hash string, r io.Reader) error {
	if !checksumPattern.MatchString(hash) {
		return fmt.Errorf("invalid blob hash: %q", hash)
	}
	dst := s.path(hash)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := writeTemp(dir, r)
	if err != nil {
		return err
	}
	if tmp.sum != hash {
		os.Remove(tmp.path)
		return fmt.Errorf("expected %s, got %s: %w", hash, tmp.sum, ErrHashMismatch)
	}
	if err := os.Rename(tmp.path, dst); err != nil {
		os.Remove(tmp.path)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *FSStore) Delete(_ context.Context, hash string) error {
	if !checksumPattern.MatchString(hash) {
		return nil
	}
	if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", hash, err)
	}
	return nil
}

func (s *FSStore) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

type tempBlob struct {
	path string
	sum  string
}

// writeTemp copies r into a new temp file in dir and returns its path along
// with the hex SHA-256 of what was written.
func writeTemp(dir string, r io.Reader) (tempBlob, error) {
	f, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return tempBlob{}, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(f.Name())
		if copyErr != nil {
			return tempBlob{}, fmt.Errorf("write blob data: %w", copyErr)
		}
		return tempBlob{}, fmt.Errorf("close temp file: %w", closeErr)
	}
	return tempBlob{path: f.Name(), sum: hex.EncodeToString(h.Sum(nil))}, nil
}
