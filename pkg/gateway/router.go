// Package gateway validates the messages of game frames and routes them to the host components.
package gateway

import (
	"context"
	"fmt"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/progress"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/slots"
)

// Source is the frame a message came from.
type Source struct {
	Frame session.Frame
	// Origin is the origin the frame connected from.
	Origin string
}

type Router struct {
	coordinator *saves.Coordinator
	aggregator  *progress.Aggregator
	games       *games.Registry
}

type NewRouterOptions struct {
	Coordinator *saves.Coordinator
	Aggregator  *progress.Aggregator
	Games       *games.Registry
}

func NewRouter(opts NewRouterOptions) *Router {
	return &Router{
		coordinator: opts.Coordinator,
		aggregator:  opts.Aggregator,
		games:       opts.Games,
	}
}

// HandleRaw decodes and handles one raw frame message. Malformed messages are dropped.
func (r *Router) HandleRaw(ctx context.Context, s *session.Session, source Source, data []byte) {
	msg, err := messages.Decode(data)
	if err != nil {
		log.Debug("Dropping message from %s: %v", source.Origin, err)
		return
	}
	r.Handle(ctx, s, source, msg)
}

// Handle runs msg to completion. A handler error never escapes: validation failures are
// logged and dropped, anything else is logged and shown to the user as a notification.
func (r *Router) Handle(ctx context.Context, s *session.Session, source Source, msg *messages.Message) {
	log.Debug("Received message %s from session %s: %s", msg.Type, s.ID, string(msg.Payload))

	err := r.dispatch(ctx, s, source, msg)
	if err == nil {
		return
	}
	if apperrors.IsValidation(err) {
		log.Debug("Dropping %s message: %v", msg.Type, err)
		return
	}
	log.Error("Error handling %s message: %v", msg.Type, err)
	s.Notify(session.NotificationError, "An error occurred: %v", err)
}

func (r *Router) dispatch(ctx context.Context, s *session.Session, source Source, msg *messages.Message) error {
	switch msg.Type {
	case messages.MessageTypeGameReady:
		return r.handleGameReady(ctx, s, source, msg)
	case messages.MessageTypeSaveGame:
		return r.handleSaveGame(ctx, s, msg)
	case messages.MessageTypeRequestSaves:
		return r.handleRequestSaves(ctx, s, source, msg)
	case messages.MessageTypeUpdateProgress:
		return r.handleUpdateProgress(ctx, s, msg)
	case messages.MessageTypeError:
		return r.handleGameError(s, msg)
	default:
		log.Warn("Unknown message type: %s", msg.Type)
		return nil
	}
}

func (r *Router) handleGameReady(ctx context.Context, s *session.Session, source Source, msg *messages.Message) error {
	payload := &messages.GameReady{}
	if err := msg.DecodePayload(payload); err != nil {
		return err
	}
	if payload.GameID == "" {
		return apperrors.Validation("GAME_READY has no gameId")
	}
	if !games.ValidID(payload.GameID) {
		return apperrors.Validation("GAME_READY has an invalid gameId %q", payload.GameID)
	}

	if game, ok := r.games.Get(payload.GameID); !ok {
		log.Warn("Game %s is not registered, using %d save slots", payload.GameID, r.games.MaxSlots(payload.GameID))
	} else if game.Origin != "" && source.Origin != "" && !sameOrigin(game.Origin, source.Origin) {
		return apperrors.Validation("game %s is served from %s, not %s", payload.GameID, game.Origin, source.Origin)
	}

	if err := s.Ready(ctx, payload.GameID, source.Frame); err != nil {
		return err
	}
	log.Info("Game ready: %s v%s in session %s", payload.GameID, payload.Version, s.ID)
	return nil
}

func sameOrigin(a string, b string) bool {
	na, err := normalizeOrigin(a)
	if err != nil {
		return false
	}
	nb, err := normalizeOrigin(b)
	if err != nil {
		return false
	}
	return na == nb
}

func (r *Router) handleSaveGame(ctx context.Context, s *session.Session, msg *messages.Message) error {
	payload := &messages.SaveGame{}
	if err := msg.DecodePayload(payload); err != nil {
		return err
	}
	slot, err := slots.ResolveSlot(s, payload)
	if err != nil {
		return err
	}

	save, err := r.coordinator.SaveGame(ctx, s.Identity(), s.GameID(), saves.SaveRequest{
		SlotNumber: slot,
		Data:       payload.SaveData,
		Metadata:   payload.Metadata,
		Thumbnail:  payload.Thumbnail,
	})
	if err != nil {
		return err
	}
	log.Info("Game saved to slot %d of %s (save %s)", save.SlotNumber, save.GameID, save.ID)
	s.Notify(session.NotificationSuccess, "Game saved successfully!")
	s.RefreshSlots()
	return nil
}

func (r *Router) handleRequestSaves(ctx context.Context, s *session.Session, source Source, msg *messages.Message) error {
	payload := &messages.RequestSaves{}
	if err := msg.DecodePayload(payload); err != nil {
		return err
	}

	identity := s.Identity()
	if identity == nil {
		log.Warn("No user authenticated in session %s, not sending saves", s.ID)
		return nil
	}

	activeGameID := s.GameID()
	gameID := payload.GameID
	if gameID == "" {
		gameID = activeGameID
	}
	if activeGameID != "" && gameID != activeGameID {
		return apperrors.Validation("saves of %s requested while %s is active", gameID, activeGameID)
	}

	records, err := r.coordinator.ListSaves(ctx, identity, gameID)
	if err != nil {
		return err
	}
	reply, err := messages.New(messages.MessageTypeSavesList, &messages.SavesList{Saves: records})
	if err != nil {
		return err
	}
	if source.Frame == nil {
		return session.ErrNoActiveFrame
	}
	if err := source.Frame.Send(ctx, reply); err != nil {
		return fmt.Errorf("failed to send saves list: %v", err)
	}
	return nil
}

func (r *Router) handleUpdateProgress(ctx context.Context, s *session.Session, msg *messages.Message) error {
	payload := &messages.UpdateProgress{}
	if err := msg.DecodePayload(payload); err != nil {
		return err
	}

	record, err := r.aggregator.UpdateProgress(ctx, s.Identity(), s.GameID(), progress.Report{
		HighScore:      payload.HighScore,
		Achievements:   payload.Achievements,
		PlayTime:       payload.PlayTime,
		CustomStats:    payload.CustomStats,
		GamesCompleted: payload.GamesCompleted,
	})
	if err != nil {
		return err
	}
	if record != nil {
		log.Debug("Progress updated for %s: high score %v", record.GameID, record.HighScore)
	}
	return nil
}

func (r *Router) handleGameError(s *session.Session, msg *messages.Message) error {
	payload := &messages.Error{}
	if err := msg.DecodePayload(payload); err != nil {
		return err
	}
	log.Error("Game error in session %s: %s (code %v)", s.ID, payload.Message, payload.Code)
	s.Notify(session.NotificationError, "%s", payload.Message)
	return nil
}
