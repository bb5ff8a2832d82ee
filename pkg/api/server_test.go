package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authmocks "github.com/cbodonnell/gserver/mocks/github.com/cbodonnell/gserver/pkg/auth/providers"
	sessionmocks "github.com/cbodonnell/gserver/mocks/github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/api/handlers"
	authproviders "github.com/cbodonnell/gserver/pkg/auth/providers"
	"github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/progress"
	"github.com/cbodonnell/gserver/pkg/repositories"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const hostOrigin = "http://localhost:3000"

var ada = &models.Identity{UserID: "user-1", DisplayName: "Ada", Email: "ada@example.com"}

type apiFixture struct {
	handler     http.Handler
	sessions    *session.Manager
	coordinator *saves.Coordinator
	aggregator  *progress.Aggregator
}

func newAPIFixture(t *testing.T) *apiFixture {
	authProvider := authmocks.NewMockAuthProvider(t)
	authProvider.EXPECT().VerifyToken(mock.Anything, "token-ada").Return(&authproviders.TokenClaims{UID: "user-1", Name: "Ada", Email: "ada@example.com"}, nil).Maybe()
	authProvider.EXPECT().VerifyToken(mock.Anything, "token-alan").Return(&authproviders.TokenClaims{UID: "user-2", Name: "Alan"}, nil).Maybe()
	authProvider.EXPECT().VerifyToken(mock.Anything, "bad").Return(nil, errors.New("token expired")).Maybe()

	repository := repositories.NewInMemoryRepository()
	now := func() time.Time {
		return time.UnixMilli(1700000000000).UTC()
	}
	coordinator := saves.NewCoordinator(saves.NewCoordinatorOptions{
		Saves:   repository,
		Orphans: repository,
		Blobs:   blobs.NewInMemoryStore(),
		Slots:   games.Default(),
		Now:     now,
	})
	aggregator := progress.NewAggregator(progress.NewAggregatorOptions{
		Repository: repository,
		Now:        now,
	})
	sessions := session.NewManager()

	return &apiFixture{
		handler: NewRouter(NewAPIServerOptions{
			AuthProvider: authProvider,
			Sessions:     sessions,
			Games:        games.Default(),
			Coordinator:  coordinator,
			Aggregator:   aggregator,
			AllowOrigins: []string{hostOrigin},
		}),
		sessions:    sessions,
		coordinator: coordinator,
		aggregator:  aggregator,
	}
}

func (f *apiFixture) do(method string, path string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

// playingSession returns a session of identity running snake in a mocked frame.
func (f *apiFixture) playingSession(t *testing.T, identity *models.Identity) (*session.Session, *sessionmocks.MockFrame) {
	frame := sessionmocks.NewMockFrame(t)
	if identity != nil {
		frame.EXPECT().Send(mock.Anything, isMessage(messages.MessageTypeUserInfo)).Return(nil).Once()
	}
	s := f.sessions.Create(identity)
	require.NoError(t, s.Ready(context.Background(), "snake", frame))
	return s, frame
}

func isMessage(t messages.MessageType) interface{} {
	return mock.MatchedBy(func(msg *messages.Message) bool {
		return msg.Type == t
	})
}

func TestGames(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodGet, "/games", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []*models.Game
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "pong", list[0].ID)

	rr = f.do(http.MethodGet, "/games/tetris", "")
	require.Equal(t, http.StatusOK, rr.Code)
	game := &models.Game{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), game))
	assert.Equal(t, "http://localhost:8081", game.Origin)

	rr = f.do(http.MethodGet, "/games/chess", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORS(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/profile", nil)
	req.Header.Set("Origin", hostOrigin)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, hostOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)

	_, err := f.coordinator.SaveGame(ctx, ada, "snake", saves.SaveRequest{SlotNumber: 1, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = f.coordinator.SaveGame(ctx, ada, "pong", saves.SaveRequest{SlotNumber: 2, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = f.aggregator.UpdateProgress(ctx, ada, "snake", progress.Report{HighScore: 120, PlayTime: 600, Achievements: []string{"first"}})
	require.NoError(t, err)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{name: "no token", expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", token: "bad", expectedStatus: http.StatusUnauthorized},
		{name: "signed in", token: "token-ada", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, "/profile", tt.token)
			require.Equal(t, tt.expectedStatus, rr.Code)
			if rr.Code != http.StatusOK {
				return
			}
			profile := &handlers.Profile{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), profile))
			assert.Equal(t, "user-1", profile.Identity.UserID)
			assert.Len(t, profile.Saves, 2)
			require.Len(t, profile.Progress, 1)
			assert.Equal(t, progress.Stats{
				GamesPlayed:     1,
				TotalSaves:      2,
				TotalScore:      120,
				PlayTimeMinutes: 10,
				Achievements:    1,
			}, profile.Stats)
		})
	}
}

func TestProgress(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.aggregator.UpdateProgress(context.Background(), ada, "snake", progress.Report{HighScore: 5})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/progress/snake", "token-ada")
	require.Equal(t, http.StatusOK, rr.Code)
	record := &models.ProgressRecord{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), record))
	assert.Equal(t, float64(5), record.HighScore)

	rr = f.do(http.MethodGet, "/progress/snake", "token-alan")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/sessions", "token-ada")
	require.Equal(t, http.StatusCreated, rr.Code)
	info := &handlers.SessionInfo{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), info))
	require.NotEmpty(t, info.SessionID)
	require.NotNil(t, info.Identity)
	assert.Equal(t, "user-1", info.Identity.UserID)

	rr = f.do(http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	info = &handlers.SessionInfo{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), info))
	assert.Nil(t, info.Identity)

	assert.Len(t, f.sessions.GetSessions(), 2)
}

func TestSessionAccess(t *testing.T) {
	f := newAPIFixture(t)
	s, _ := f.playingSession(t, ada)

	tests := []struct {
		name           string
		path           string
		token          string
		expectedStatus int
	}{
		{name: "unknown session", path: "/sessions/missing", token: "token-ada", expectedStatus: http.StatusNotFound},
		{name: "no token", path: "/sessions/" + s.ID, expectedStatus: http.StatusUnauthorized},
		{name: "another user", path: "/sessions/" + s.ID, token: "token-alan", expectedStatus: http.StatusForbidden},
		{name: "owner", path: "/sessions/" + s.ID, token: "token-ada", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, tt.path, tt.token)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestSignInAndOut(t *testing.T) {
	f := newAPIFixture(t)
	s, frame := f.playingSession(t, nil)

	frame.EXPECT().Send(mock.Anything, isMessage(messages.MessageTypeUserInfo)).Return(nil).Once()
	rr := f.do(http.MethodPut, "/sessions/"+s.ID+"/identity", "token-ada")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, s.Identity())
	assert.Equal(t, "user-1", s.Identity().UserID)

	rr = f.do(http.MethodDelete, "/sessions/"+s.ID+"/identity", "token-alan")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(http.MethodDelete, "/sessions/"+s.ID+"/identity", "token-ada")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, s.Identity())
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	s, frame := f.playingSession(t, ada)
	save, err := f.coordinator.SaveGame(ctx, ada, "snake", saves.SaveRequest{
		SlotNumber: 2,
		Data:       json.RawMessage(`{"level":4}`),
		Metadata:   map[string]interface{}{"level": float64(4)},
	})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/sessions/"+s.ID+"/slots", "token-ada")
	require.Equal(t, http.StatusOK, rr.Code)
	grid := &struct {
		MaxSlots int `json:"maxSlots"`
		Slots    []struct {
			SlotNumber int                `json:"slotNumber"`
			Save       *models.SaveRecord `json:"save"`
		} `json:"slots"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), grid))
	assert.Equal(t, 3, grid.MaxSlots)
	require.Len(t, grid.Slots, 3)
	assert.Nil(t, grid.Slots[0].Save)
	require.NotNil(t, grid.Slots[1].Save)
	assert.Equal(t, save.ID, grid.Slots[1].Save.ID)

	t.Run("request save", func(t *testing.T) {
		frame.EXPECT().Send(mock.Anything, isMessage(messages.MessageTypeRequestSave)).Return(nil).Once()
		rr := f.do(http.MethodPost, "/sessions/"+s.ID+"/slots/1/request", "token-ada")
		require.Equal(t, http.StatusAccepted, rr.Code)
		response := &handlers.RequestSaveResponse{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), response))
		assert.NotEmpty(t, response.RequestID)
		assert.Equal(t, 1, s.PendingSaves())
	})

	t.Run("request save out of range", func(t *testing.T) {
		rr := f.do(http.MethodPost, "/sessions/"+s.ID+"/slots/9/request", "token-ada")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr = f.do(http.MethodPost, "/sessions/"+s.ID+"/slots/first/request", "token-ada")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("load", func(t *testing.T) {
		frame.EXPECT().Send(mock.Anything, isMessage(messages.MessageTypeLoadGame)).Return(nil).Once()
		rr := f.do(http.MethodPost, "/sessions/"+s.ID+"/saves/"+save.ID+"/load", "token-ada")
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = f.do(http.MethodPost, "/sessions/"+s.ID+"/saves/missing/load", "token-ada")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rr := f.do(http.MethodDelete, "/sessions/"+s.ID+"/saves/"+save.ID, "token-ada")
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(http.MethodDelete, "/sessions/"+s.ID+"/saves/"+save.ID, "token-ada")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("close game", func(t *testing.T) {
		rr := f.do(http.MethodDelete, "/sessions/"+s.ID+"/game", "token-ada")
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, s.GameID())

		rr = f.do(http.MethodGet, "/sessions/"+s.ID+"/slots", "token-ada")
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestSlotsSignedOut(t *testing.T) {
	f := newAPIFixture(t)
	s, _ := f.playingSession(t, nil)

	rr := f.do(http.MethodGet, "/sessions/"+s.ID+"/slots", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = f.do(http.MethodPost, "/sessions/"+s.ID+"/slots/1/request", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestEvents(t *testing.T) {
	f := newAPIFixture(t)
	s := f.sessions.Create(ada)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + s.ID + "/events?token=token-ada"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{hostOrigin}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return s.Subscribers() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Notify(session.NotificationSuccess, "Game saved successfully!")
	s.RefreshSlots()

	event := session.Event{}
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, session.Event{Kind: session.EventKindNotification, Level: session.NotificationSuccess, Message: "Game saved successfully!"}, event)
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, session.EventKindRefreshSlots, event.Kind)
}
