package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mocks "github.com/cbodonnell/gserver/mocks/github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func isUserInfo(userID string, displayName string) interface{} {
	return mock.MatchedBy(func(msg *messages.Message) bool {
		if msg.Type != messages.MessageTypeUserInfo {
			return false
		}
		info := &messages.UserInfo{}
		if err := json.Unmarshal(msg.Payload, info); err != nil {
			return false
		}
		return info.UserID == userID && info.DisplayName == displayName
	})
}

func TestSession_Ready(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		identity *models.Identity
		setup    func(frame *mocks.MockFrame)
	}{
		{
			name:     "pushes user info when signed in",
			identity: &models.Identity{UserID: "user-1", DisplayName: "Ada", Email: "ada@example.com"},
			setup: func(frame *mocks.MockFrame) {
				frame.EXPECT().Send(mock.Anything, isUserInfo("user-1", "Ada")).Return(nil).Once()
			},
		},
		{
			name:     "defaults the display name",
			identity: &models.Identity{UserID: "user-1", Email: "ada@example.com"},
			setup: func(frame *mocks.MockFrame) {
				frame.EXPECT().Send(mock.Anything, isUserInfo("user-1", "Player")).Return(nil).Once()
			},
		},
		{
			name:     "no push when signed out",
			identity: nil,
			setup:    func(frame *mocks.MockFrame) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mocks.NewMockFrame(t)
			tt.setup(frame)

			s := NewSession("session-1", tt.identity)
			require.NoError(t, s.Ready(ctx, "snake", frame))
			assert.Equal(t, "snake", s.GameID())
			assert.Equal(t, frame, s.Frame())
		})
	}
}

func TestSession_SetIdentity(t *testing.T) {
	ctx := context.Background()
	frame := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)

	// no game yet, nothing is pushed
	require.NoError(t, s.SetIdentity(ctx, &models.Identity{UserID: "user-0"}))
	require.NoError(t, s.SetIdentity(ctx, nil))
	require.NoError(t, s.Ready(ctx, "snake", frame))

	frame.EXPECT().Send(mock.Anything, isUserInfo("user-1", "Ada")).Return(nil).Once()
	require.NoError(t, s.SetIdentity(ctx, &models.Identity{UserID: "user-1", DisplayName: "Ada"}))
	assert.Equal(t, "user-1", s.Identity().UserID)

	require.NoError(t, s.SetIdentity(ctx, nil))
	assert.Nil(t, s.Identity())
}

func TestSession_identityIsCopied(t *testing.T) {
	identity := &models.Identity{UserID: "user-1"}
	s := NewSession("session-1", identity)
	identity.UserID = "someone-else"
	s.Identity().UserID = "mutated"
	assert.Equal(t, "user-1", s.Identity().UserID)
}

func TestSession_Close(t *testing.T) {
	ctx := context.Background()
	frame := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)
	events, cancel := s.Subscribe(0)
	defer cancel()

	require.NoError(t, s.Ready(ctx, "snake", frame))
	s.AddPendingSave("request-1", 2)
	s.Close()

	assert.Equal(t, "", s.GameID())
	assert.Nil(t, s.Frame())
	assert.Equal(t, 0, s.PendingSaves())
	assert.Equal(t, Event{Kind: EventKindGameClosed}, <-events)
	assert.ErrorIs(t, s.SendToGame(ctx, &messages.Message{Type: messages.MessageTypeLoadGame}), ErrNoActiveFrame)
}

func TestSession_DetachFrame(t *testing.T) {
	ctx := context.Background()
	first := mocks.NewMockFrame(t)
	second := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)

	require.NoError(t, s.Ready(ctx, "snake", first))
	require.NoError(t, s.Ready(ctx, "space-shooter", second))

	s.DetachFrame(first)
	assert.Equal(t, "space-shooter", s.GameID(), "a stale frame does not close the newer game")

	s.DetachFrame(second)
	assert.Equal(t, "", s.GameID())
}

func TestSession_DetachFrameDoesNotCloseANewerFrame(t *testing.T) {
	ctx := context.Background()
	first := mocks.NewMockFrame(t)
	second := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)

	for i := 0; i < 500; i++ {
		require.NoError(t, s.Ready(ctx, "snake", first))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.DetachFrame(first)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Ready(ctx, "space-shooter", second))
		}()
		wg.Wait()

		require.Equal(t, second, s.Frame())
		require.Equal(t, "space-shooter", s.GameID())
	}
}

func TestSession_SendToGame(t *testing.T) {
	ctx := context.Background()
	frame := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)
	require.NoError(t, s.Ready(ctx, "snake", frame))

	msg := &messages.Message{Type: messages.MessageTypeLoadGame}
	frame.EXPECT().Send(mock.Anything, msg).Return(errors.New("closed")).Once()
	assert.EqualError(t, s.SendToGame(ctx, msg), "closed")
}

func TestSession_pendingSaves(t *testing.T) {
	s := NewSession("session-1", nil)
	s.AddPendingSave("request-1", 2)
	s.AddPendingSave("request-2", 3)

	slot, ok := s.TakePendingSave("request-1")
	assert.True(t, ok)
	assert.Equal(t, 2, slot)

	_, ok = s.TakePendingSave("request-1")
	assert.False(t, ok, "a request is answered once")
	assert.Equal(t, 1, s.PendingSaves())
}

func TestSession_events(t *testing.T) {
	s := NewSession("session-1", nil)
	first, cancelFirst := s.Subscribe(1)
	second, cancelSecond := s.Subscribe(4)
	defer cancelSecond()
	assert.Equal(t, 2, s.Subscribers())

	s.Notify(NotificationSuccess, "Game saved %s!", "successfully")
	s.RefreshSlots()

	assert.Equal(t, Event{Kind: EventKindNotification, Level: NotificationSuccess, Message: "Game saved successfully!"}, <-first)
	assert.Equal(t, Event{Kind: EventKindNotification, Level: NotificationSuccess, Message: "Game saved successfully!"}, <-second)
	assert.Equal(t, Event{Kind: EventKindRefreshSlots}, <-second)

	// the refresh was dropped for the full subscriber
	select {
	case e := <-first:
		t.Fatalf("unexpected event %v", e)
	default:
	}

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open)
	assert.Equal(t, 1, s.Subscribers())
}

func TestManager(t *testing.T) {
	m := NewManager()
	a := m.Create(&models.Identity{UserID: "user-1"})
	b := m.Create(nil)
	assert.NotEqual(t, a.ID, b.ID)

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Len(t, m.GetSessions(), 2)

	m.Remove(a.ID)
	_, ok = m.Get(a.ID)
	assert.False(t, ok)
}

func TestManager_RemoveIdle(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	idle := m.Create(nil)
	playing := m.Create(nil)
	require.NoError(t, playing.Ready(ctx, "snake", mocks.NewMockFrame(t)))
	watched := m.Create(nil)
	_, unsubscribe := watched.Subscribe(0)
	defer unsubscribe()

	removed := m.RemoveIdle(time.Now().Add(time.Minute))
	assert.Equal(t, []string{idle.ID}, removed)
	_, ok := m.Get(playing.ID)
	assert.True(t, ok)
	_, ok = m.Get(watched.ID)
	assert.True(t, ok, "a session with an open host view is not idle")

	assert.True(t, idle.Stopped())
	assert.ErrorIs(t, idle.Enqueue(ctx, &Inbound{Data: []byte(`{}`)}), ErrStopped)
	assert.False(t, watched.Stopped())
}

// recordingHandler records the data of every message and fails the test if two run at once.
type recordingHandler struct {
	t       *testing.T
	lock    sync.Mutex
	running int32
	handled []string
	hold    chan struct{}
}

func (h *recordingHandler) handle(ctx context.Context, s *Session, msg *Inbound) {
	if atomic.AddInt32(&h.running, 1) != 1 {
		h.t.Errorf("message %s handled concurrently", msg.Data)
	}
	defer atomic.AddInt32(&h.running, -1)
	if h.hold != nil && string(msg.Data) == "hold" {
		<-h.hold
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.handled = append(h.handled, string(msg.Data))
}

func (h *recordingHandler) messages() []string {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]string(nil), h.handled...)
}

func TestSession_worker(t *testing.T) {
	ctx := context.Background()
	first := mocks.NewMockFrame(t)
	second := mocks.NewMockFrame(t)
	s := NewSession("session-1", nil)
	defer s.Stop()
	events, cancel := s.Subscribe(0)
	defer cancel()

	h := &recordingHandler{t: t, hold: make(chan struct{})}
	s.StartWorker(h.handle)
	s.StartWorker(h.handle)
	require.NoError(t, s.Ready(ctx, "snake", first))

	require.NoError(t, s.Enqueue(ctx, &Inbound{Frame: first, Data: []byte("hold")}))
	require.NoError(t, s.Enqueue(ctx, &Inbound{Frame: second, Data: []byte("a")}))
	require.NoError(t, s.Enqueue(ctx, &Inbound{Frame: first, Data: []byte("b")}))
	closed := &Inbound{Frame: first, Closed: true, Done: make(chan struct{})}
	require.NoError(t, s.Enqueue(ctx, closed))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.messages())
	assert.Equal(t, "snake", s.GameID(), "the frame is detached after its queued messages")

	close(h.hold)
	select {
	case <-closed.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("the worker never reached the end of the connection")
	}
	assert.Equal(t, []string{"hold", "a", "b"}, h.messages())
	assert.Equal(t, "", s.GameID())
	assert.Equal(t, Event{Kind: EventKindGameClosed}, <-events)
}

func TestSession_Stop(t *testing.T) {
	ctx := context.Background()
	s := NewSession("session-1", nil)
	h := &recordingHandler{t: t, hold: make(chan struct{})}
	s.StartWorker(h.handle)

	require.NoError(t, s.Enqueue(ctx, &Inbound{Data: []byte("hold")}))
	queued := &Inbound{Data: []byte("queued"), Done: make(chan struct{})}
	require.NoError(t, s.Enqueue(ctx, queued))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&h.running) == 1
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a message was being handled")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.hold)
	<-stopped

	<-queued.Done
	assert.Equal(t, []string{"hold"}, h.messages(), "queued messages are dropped")
	assert.ErrorIs(t, s.Enqueue(ctx, &Inbound{Data: []byte("late")}), ErrStopped)

	// a stopped session never starts another worker
	s.StartWorker(h.handle)
	assert.True(t, s.Stopped())
}

func TestSession_EnqueueBlocksWhileFull(t *testing.T) {
	s := NewSession("session-1", nil)
	for i := 0; i < InboundQueueSize; i++ {
		require.NoError(t, s.Enqueue(context.Background(), &Inbound{Data: []byte("x")}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Enqueue(ctx, &Inbound{Data: []byte("y")}), context.DeadlineExceeded)

	blocked := make(chan error, 1)
	go func() {
		blocked <- s.Enqueue(context.Background(), &Inbound{Data: []byte("y")})
	}()
	s.Stop()
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not release a blocked Enqueue")
	}
}
