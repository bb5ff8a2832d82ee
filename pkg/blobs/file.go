package blobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Store = &FileStore{}

// FileStore keeps blobs as files below a root directory. It backs file:// blob URLs for local development.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %v", root, err)
	}
	return &FileStore{
		root: root,
	}, nil
}

func (s *FileStore) resolve(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(path)), nil
}

func (s *FileStore) Put(ctx context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %v", err)
	}
	// write to a sibling file first so readers never see a partial blob
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %v", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("failed to rename blob: %v", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ErrNotFound{Path: path}
		}
		return nil, fmt.Errorf("failed to read blob: %v", err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ErrNotFound{Path: path}
		}
		return fmt.Errorf("failed to delete blob: %v", err)
	}
	return nil
}
