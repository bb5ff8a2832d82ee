package blobs

import (
	"context"
	"fmt"
	"strings"
)

// Store is a blob store addressed by slash-separated paths.
type Store interface {
	// Put writes data at path, replacing whatever was there.
	Put(ctx context.Context, path string, data []byte) error
	// Get returns ErrNotFound if there is no blob at path.
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete returns ErrNotFound if there is no blob at path.
	Delete(ctx context.Context, path string) error
}

type ErrNotFound struct {
	Path string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("blob not found: %s", e.Path)
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// SavePath is the stable location of the payload of a save slot. Saving to the
// same slot again overwrites the blob in place.
func SavePath(userID string, gameID string, slotNumber int) string {
	return fmt.Sprintf("saves/%s/%s/slot%d.json", userID, gameID, slotNumber)
}

// ValidatePath rejects absolute paths and paths with an empty, "." or ".." segment.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return fmt.Errorf("invalid blob path: %q", path)
	}
	for _, segment := range strings.Split(path, "/") {
		switch segment {
		case "", ".", "..":
			return fmt.Errorf("invalid blob path: %q", path)
		}
	}
	return nil
}
