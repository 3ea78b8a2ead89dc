package reports

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSFileStore is the production FileStore, wrapping
// cloud.google.com/go/storage — already a direct dependency pulled in for
// catalog backups elsewhere in the stack. Handles are object names within a
// single bucket.
type GCSFileStore struct {
	client *storage.Client
	bucket string
}

// NewGCSFileStore builds a FileStore backed by the given bucket.
func NewGCSFileStore(ctx context.Context, bucket string) (*GCSFileStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSFileStore{client: client, bucket: bucket}, nil
}

// Put uploads data under a freshly generated object name and returns it as
// the handle.
func (g *GCSFileStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	handle := uuid.NewString()
	obj := g.client.Bucket(g.bucket).Object(handle)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"originalName": name}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing object writer: %w", err)
	}
	return handle, nil
}

// Get downloads the object stored under handle.
func (g *GCSFileStore) Get(ctx context.Context, handle string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(handle).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object reader: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Delete removes the object stored under handle.
func (g *GCSFileStore) Delete(ctx context.Context, handle string) error {
	if err := g.client.Bucket(g.bucket).Object(handle).Delete(ctx); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}
