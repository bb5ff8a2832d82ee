package repositories

import (
	"context"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

// Repository is a document store holding save records, progress records and orphaned blob paths.
type Repository interface {
	SaveRepository
	ProgressRepository
	OrphanRepository
	Close(ctx context.Context) error
}

// SaveRepository stores save slot metadata keyed by user.
type SaveRepository interface {
	// GetSave returns ErrNotFound if the user has no save with the given id.
	GetSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error)
	// UpsertSave writes the record of a slot under models.SaveID, creating it or replacing
	// its contents in one step. An existing record keeps its CreatedAt.
	// The stored record is returned.
	UpsertSave(ctx context.Context, userID string, save *models.SaveRecord) (*models.SaveRecord, error)
	// DeleteSave returns ErrNotFound if the user has no save with the given id.
	DeleteSave(ctx context.Context, userID string, saveID string) error
	// ListSaves returns the saves of one game ordered by slot number ascending.
	ListSaves(ctx context.Context, userID string, gameID string) ([]*models.SaveRecord, error)
	// ListAllSaves returns the saves of every game, most recently modified first.
	ListAllSaves(ctx context.Context, userID string) ([]*models.SaveRecord, error)
}

// ProgressUpdateFunc computes the next progress record from the current one.
// current is nil when the user has no progress for the game yet.
type ProgressUpdateFunc func(current *models.ProgressRecord) (*models.ProgressRecord, error)

// ProgressRepository stores per-game progress records keyed by user.
type ProgressRepository interface {
	// GetProgress returns ErrNotFound if the user has no progress for the game.
	GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error)
	ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error)
	// UpdateProgress runs fn against the latest stored record and writes its result
	// atomically: no other update of the same (userID, gameID) can land in between.
	UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error)
	Close(ctx context.Context) error
}

// OrphanRepository tracks blob paths whose delete failed so they can be reaped later.
type OrphanRepository interface {
	AddOrphanBlob(ctx context.Context, path string) error
	ListOrphanBlobs(ctx context.Context, limit int) ([]string, error)
	RemoveOrphanBlob(ctx context.Context, path string) error
}
