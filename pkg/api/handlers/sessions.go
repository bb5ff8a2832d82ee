package handlers

import (
	"net/http"
	"strconv"

	"github.com/cbodonnell/gserver/pkg/api/middleware"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/slots"
	"github.com/gorilla/mux"
)

type SessionInfo struct {
	SessionID string           `json:"sessionId"`
	GameID    string           `json:"gameId,omitempty"`
	Identity  *models.Identity `json:"identity"`
}

func sessionInfo(s *session.Session) *SessionInfo {
	return &SessionInfo{
		SessionID: s.ID,
		GameID:    s.GameID(),
		Identity:  s.Identity(),
	}
}

// lookupSession resolves the session of the request. A signed-in session only answers to
// its own user; the id of a signed-out session is enough to address it.
func lookupSession(w http.ResponseWriter, r *http.Request, sessions *session.Manager) (*session.Session, bool) {
	s, ok := sessions.Get(mux.Vars(r)["sessionId"])
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}

	if owner := s.Identity(); owner != nil {
		caller, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "Authorization header is missing", http.StatusUnauthorized)
			return nil, false
		}
		if caller.UserID != owner.UserID {
			http.Error(w, "Session belongs to another user", http.StatusForbidden)
			return nil, false
		}
	}
	s.Touch()
	return s, true
}

// HandleCreateSession starts a host session, signed in if the request carries a token.
func HandleCreateSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := middleware.IdentityFromContext(r.Context())
		s := sessions.Create(identity)
		log.Info("Created session %s", s.ID)
		writeJSON(w, http.StatusCreated, sessionInfo(s))
	}
}

func HandleGetSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sessionInfo(s))
	}
}

// HandleSignIn binds the caller's identity to the session. A running game receives USER_INFO.
func HandleSignIn(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			log.Error("failed to get identity from context")
			http.Error(w, "Failed to get identity from context", http.StatusInternalServerError)
			return
		}
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}

		if err := s.SetIdentity(r.Context(), caller); err != nil {
			log.Warn("Signed in session %s but the game was not told: %v", s.ID, err)
		}
		writeJSON(w, http.StatusOK, sessionInfo(s))
	}
}

func HandleSignOut(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		if err := s.SetIdentity(r.Context(), nil); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleCloseGame clears the session's active game, as the close button of the host does.
func HandleCloseGame(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		s.Close()
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleGetSlots(sessions *session.Manager, adapter *slots.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		grid, err := adapter.Grid(r.Context(), s)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grid)
	}
}

type RequestSaveResponse struct {
	RequestID string `json:"requestId"`
}

func HandleRequestSave(sessions *session.Manager, adapter *slots.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		slot, err := strconv.Atoi(mux.Vars(r)["slot"])
		if err != nil {
			http.Error(w, "Failed to parse slot", http.StatusBadRequest)
			return
		}

		requestID, err := adapter.RequestSave(r.Context(), s, slot)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, &RequestSaveResponse{RequestID: requestID})
	}
}

func HandleLoadSave(sessions *session.Manager, adapter *slots.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		save, err := adapter.Load(r.Context(), s, mux.Vars(r)["saveId"])
		if err != nil {
			s.Notify(session.NotificationError, "Failed to load game: %v", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, save)
	}
}

func HandleDeleteSave(sessions *session.Manager, adapter *slots.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}
		if err := adapter.Delete(r.Context(), s, mux.Vars(r)["saveId"]); err != nil {
			s.Notify(session.NotificationError, "Failed to delete save: %v", err)
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
