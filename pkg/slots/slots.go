// Package slots presents the saves of the active game as a fixed-size slot grid.
package slots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/google/uuid"
)

type Action string

const (
	ActionLoad   Action = "load"
	ActionDelete Action = "delete"
	ActionSave   Action = "save"
)

// Slot is one cell of the grid. Save is nil for an empty slot.
type Slot struct {
	SlotNumber int                `json:"slotNumber"`
	Label      string             `json:"label"`
	Summary    string             `json:"summary"`
	Save       *models.SaveRecord `json:"save,omitempty"`
	Actions    []Action           `json:"actions"`
}

type Grid struct {
	GameID   string `json:"gameId"`
	MaxSlots int    `json:"maxSlots"`
	Slots    []Slot `json:"slots"`
}

type Adapter struct {
	coordinator *saves.Coordinator
}

func NewAdapter(coordinator *saves.Coordinator) *Adapter {
	return &Adapter{
		coordinator: coordinator,
	}
}

// Grid lists the saves of the session's active game, one slot per number in 1..maxSlots.
// Records outside that range are not rendered.
func (a *Adapter) Grid(ctx context.Context, s *session.Session) (*Grid, error) {
	gameID := s.GameID()
	records, err := a.coordinator.ListSaves(ctx, s.Identity(), gameID)
	if err != nil {
		return nil, err
	}

	maxSlots := a.coordinator.MaxSlots(gameID)
	bySlot := make(map[int]*models.SaveRecord, len(records))
	for _, r := range records {
		if r.SlotNumber < 1 || r.SlotNumber > maxSlots {
			log.Warn("Skipping save %s in slot %d outside 1..%d", r.ID, r.SlotNumber, maxSlots)
			continue
		}
		bySlot[r.SlotNumber] = r
	}

	grid := &Grid{
		GameID:   gameID,
		MaxSlots: maxSlots,
		Slots:    make([]Slot, 0, maxSlots),
	}
	for i := 1; i <= maxSlots; i++ {
		slot := Slot{
			SlotNumber: i,
			Label:      fmt.Sprintf("Slot %d", i),
		}
		if save, ok := bySlot[i]; ok {
			slot.Save = save
			slot.Summary = summarize(save)
			slot.Actions = []Action{ActionLoad, ActionDelete}
		} else {
			slot.Summary = "Empty slot"
			slot.Actions = []Action{ActionSave}
		}
		grid.Slots = append(grid.Slots, slot)
	}
	return grid, nil
}

func summarize(save *models.SaveRecord) string {
	parts := make([]string, 0, 3)
	if level, ok := save.Metadata["level"]; ok && level != nil {
		parts = append(parts, fmt.Sprintf("Level: %v", level))
	}
	if score, ok := save.Metadata["score"]; ok && score != nil {
		parts = append(parts, fmt.Sprintf("Score: %v", score))
	}
	if !save.LastModified.IsZero() {
		parts = append(parts, "Saved: "+save.LastModified.UTC().Format(time.RFC3339))
	}
	if len(parts) == 0 {
		return "No metadata"
	}
	return strings.Join(parts, " • ")
}

// RequestSave asks the game to save into slot. The game answers, possibly never, with a
// SAVE_GAME echoing the returned request id.
func (a *Adapter) RequestSave(ctx context.Context, s *session.Session, slot int) (string, error) {
	if s.Identity() == nil {
		return "", apperrors.ErrNotAuthenticated
	}
	gameID := s.GameID()
	if gameID == "" {
		return "", apperrors.ErrNoActiveGame
	}
	maxSlots := a.coordinator.MaxSlots(gameID)
	if slot < 1 || slot > maxSlots {
		return "", apperrors.Validation("slot %d is outside 1..%d", slot, maxSlots)
	}

	requestID := uuid.NewString()
	msg, err := messages.New(messages.MessageTypeRequestSave, &messages.RequestSave{
		SlotNumber: slot,
		RequestID:  requestID,
	})
	if err != nil {
		return "", err
	}

	s.AddPendingSave(requestID, slot)
	if err := s.SendToGame(ctx, msg); err != nil {
		s.TakePendingSave(requestID)
		return "", err
	}
	s.Notify(session.NotificationSuccess, "Requesting save to Slot %d...", slot)
	return requestID, nil
}

// ResolveSlot returns the slot a SAVE_GAME writes to. A pending request named by its request id
// decides the slot and the echoed slot number must agree with it; otherwise the echoed slot number is used.
func ResolveSlot(s *session.Session, payload *messages.SaveGame) (int, error) {
	if payload.RequestID == "" {
		return payload.SlotNumber, nil
	}
	slot, ok := s.TakePendingSave(payload.RequestID)
	if !ok {
		log.Debug("Save request %s is not pending, using slot %d", payload.RequestID, payload.SlotNumber)
		return payload.SlotNumber, nil
	}
	if payload.SlotNumber != 0 && payload.SlotNumber != slot {
		return 0, apperrors.Validation("save request %s was for slot %d, not %d", payload.RequestID, slot, payload.SlotNumber)
	}
	return slot, nil
}

// Load sends a save of the active game to the game frame.
func (a *Adapter) Load(ctx context.Context, s *session.Session, saveID string) (*models.SaveRecord, error) {
	save, err := a.coordinator.LoadSave(ctx, s.Identity(), saveID, s)
	if err != nil {
		return nil, err
	}
	s.Notify(session.NotificationSuccess, "Game loaded!")
	return save, nil
}

// Delete removes a save and refreshes open slot pickers.
func (a *Adapter) Delete(ctx context.Context, s *session.Session, saveID string) error {
	if err := a.coordinator.DeleteSave(ctx, s.Identity(), saveID); err != nil {
		return err
	}
	s.Notify(session.NotificationSuccess, "Save deleted")
	s.RefreshSlots()
	return nil
}
