// Package saves coordinates save slots between game frames, the document store and the blob store.
package saves

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/repositories"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

// SlotPolicy bounds the save slots of a game to 1..MaxSlots.
type SlotPolicy interface {
	MaxSlots(gameID string) int
}

// GameTarget receives the LOAD_GAME message of a loaded save.
type GameTarget interface {
	SendToGame(ctx context.Context, msg *messages.Message) error
}

// SaveRequest is a payload produced by a game for one slot.
type SaveRequest struct {
	SlotNumber int
	Data       json.RawMessage
	Metadata   map[string]interface{}
	Thumbnail  *string
}

type Coordinator struct {
	saves   repositories.SaveRepository
	orphans repositories.OrphanRepository
	blobs   blobs.Store
	slots   SlotPolicy
	now     func() time.Time
}

type NewCoordinatorOptions struct {
	Saves   repositories.SaveRepository
	Orphans repositories.OrphanRepository
	Blobs   blobs.Store
	Slots   SlotPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewCoordinator(opts NewCoordinatorOptions) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		saves:   opts.Saves,
		orphans: opts.Orphans,
		blobs:   opts.Blobs,
		slots:   opts.Slots,
		now:     now,
	}
}

// MaxSlots returns the number of slots of a game.
func (c *Coordinator) MaxSlots(gameID string) int {
	if c.slots == nil {
		return models.DefaultMaxSlots
	}
	return c.slots.MaxSlots(gameID)
}

// SaveGame stores req in its slot. The payload is written to the slot's blob first and the
// slot's record is then upserted under models.SaveID, so concurrent saves of one slot
// converge on a single record.
func (c *Coordinator) SaveGame(ctx context.Context, identity *models.Identity, gameID string, req SaveRequest) (*models.SaveRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	if gameID == "" {
		return nil, apperrors.ErrNoActiveGame
	}
	if !games.ValidID(gameID) {
		return nil, apperrors.Validation("invalid game id %q", gameID)
	}
	maxSlots := c.MaxSlots(gameID)
	if req.SlotNumber < 1 || req.SlotNumber > maxSlots {
		return nil, apperrors.Validation("slot %d is outside 1..%d", req.SlotNumber, maxSlots)
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if !json.Valid(data) {
		return nil, apperrors.Validation("save data of slot %d is not valid JSON", req.SlotNumber)
	}

	path := blobs.SavePath(identity.UserID, gameID, req.SlotNumber)
	// the slot's path is about to be live again, it must not be reaped
	if c.orphans != nil {
		if err := c.orphans.RemoveOrphanBlob(ctx, path); err != nil {
			log.Warn("Failed to clear orphan mark of %s: %v", path, err)
		}
	}
	if err := c.blobs.Put(ctx, path, data); err != nil {
		return nil, apperrors.Storage("write save data", err)
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	now := c.now().UTC()

	save, err := c.saves.UpsertSave(ctx, identity.UserID, &models.SaveRecord{
		GameID:       gameID,
		SlotNumber:   req.SlotNumber,
		StoragePath:  path,
		Metadata:     metadata,
		Thumbnail:    req.Thumbnail,
		CreatedAt:    now,
		LastModified: now,
	})
	if err != nil {
		return nil, apperrors.Storage("write save record", err)
	}
	log.Debug("Saved %s in slot %d of %s for user %s", save.ID, req.SlotNumber, gameID, identity.UserID)
	return save, nil
}

func (c *Coordinator) getSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error) {
	save, err := c.saves.GetSave(ctx, userID, saveID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, apperrors.ErrSaveNotFound
		}
		return nil, apperrors.Storage("get save record", err)
	}
	return save, nil
}

// LoadSave reads a save's payload and sends it to target as LOAD_GAME.
func (c *Coordinator) LoadSave(ctx context.Context, identity *models.Identity, saveID string, target GameTarget) (*models.SaveRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	save, err := c.getSave(ctx, identity.UserID, saveID)
	if err != nil {
		return nil, err
	}

	data, err := c.blobs.Get(ctx, save.StoragePath)
	if err != nil {
		return nil, apperrors.Storage("read save data", err)
	}

	msg, err := messages.New(messages.MessageTypeLoadGame, &messages.LoadGame{
		SaveData:   data,
		SlotNumber: save.SlotNumber,
		Metadata:   save.Metadata,
	})
	if err != nil {
		return nil, apperrors.Storage("decode save data", err)
	}
	if target == nil {
		return nil, apperrors.ErrNoActiveGame
	}
	if err := target.SendToGame(ctx, msg); err != nil {
		return nil, err
	}
	return save, nil
}

// DeleteSave deletes a save record. Its blob is deleted first on a best-effort basis; a blob
// that cannot be deleted is recorded as an orphan and the record is deleted regardless.
func (c *Coordinator) DeleteSave(ctx context.Context, identity *models.Identity, saveID string) error {
	if identity == nil {
		return apperrors.ErrNotAuthenticated
	}
	save, err := c.getSave(ctx, identity.UserID, saveID)
	if err != nil {
		return err
	}

	if err := c.blobs.Delete(ctx, save.StoragePath); err != nil && !blobs.IsNotFound(err) {
		log.Warn("Failed to delete save data %s: %v", save.StoragePath, err)
		c.markOrphan(ctx, save.StoragePath)
	}

	if err := c.saves.DeleteSave(ctx, identity.UserID, saveID); err != nil {
		if repositories.IsNotFound(err) {
			return apperrors.ErrSaveNotFound
		}
		return apperrors.Storage("delete save record", err)
	}
	log.Debug("Deleted save %s of user %s", saveID, identity.UserID)
	return nil
}

func (c *Coordinator) markOrphan(ctx context.Context, path string) {
	if c.orphans == nil {
		return
	}
	if err := c.orphans.AddOrphanBlob(ctx, path); err != nil {
		log.Warn("Failed to record orphan blob %s: %v", path, err)
	}
}

// ListSaves returns the saves of a game ordered by slot number.
func (c *Coordinator) ListSaves(ctx context.Context, identity *models.Identity, gameID string) ([]*models.SaveRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	if gameID == "" {
		return nil, apperrors.ErrNoActiveGame
	}
	saves, err := c.saves.ListSaves(ctx, identity.UserID, gameID)
	if err != nil {
		return nil, apperrors.Storage("list saves", err)
	}
	return saves, nil
}

// ListAllSaves returns the saves of every game, most recently modified first.
func (c *Coordinator) ListAllSaves(ctx context.Context, identity *models.Identity) ([]*models.SaveRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	saves, err := c.saves.ListAllSaves(ctx, identity.UserID)
	if err != nil {
		return nil, apperrors.Storage("list saves", err)
	}
	return saves, nil
}
