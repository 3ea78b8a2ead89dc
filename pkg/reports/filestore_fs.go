package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSFileStore backs local/dev runs and tests with the local filesystem
// under a handle-namespaced directory — the same put(name,bytes)/get(handle)
// contract as the GCS implementation, swappable without touching the worker.
type FSFileStore struct {
	baseDir string
}

// NewFSFileStore builds a filesystem-backed FileStore rooted at baseDir,
// creating it if necessary.
func NewFSFileStore(baseDir string) (*FSFileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report storage dir: %w", err)
	}
	return &FSFileStore{baseDir: baseDir}, nil
}

// Put writes data under a freshly generated handle and returns it.
func (f *FSFileStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	handle := uuid.NewString()
	path := filepath.Join(f.baseDir, handle)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report artifact: %w", err)
	}
	return handle, nil
}

// Get reads the bytes stored under handle.
func (f *FSFileStore) Get(ctx context.Context, handle string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, handle))
	if err != nil {
		return nil, fmt.Errorf("reading report artifact: %w", err)
	}
	return data, nil
}

// Delete removes the file stored under handle.
func (f *FSFileStore) Delete(ctx context.Context, handle string) error {
	err := os.Remove(filepath.Join(f.baseDir, handle))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting report artifact: %w", err)
	}
	return nil
}
