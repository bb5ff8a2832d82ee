package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

var _ Store = &GCSStore{}

// GCSStore keeps blobs as objects of a Cloud Storage bucket, usually the Firebase default bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func NewGCSStore(bucket *storage.BucketHandle) *GCSStore {
	return &GCSStore{
		bucket: bucket,
	}
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte) error {
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close object writer %s: %v", path, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &ErrNotFound{Path: path}
		}
		return nil, fmt.Errorf("failed to open object %s: %v", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %v", path, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Object(path).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &ErrNotFound{Path: path}
		}
		return fmt.Errorf("failed to delete object %s: %v", path, err)
	}
	return nil
}
