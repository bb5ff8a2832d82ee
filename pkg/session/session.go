package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/queue"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

// ErrNoActiveFrame is returned when a message is sent to a session that has no game frame.
// It matches apperrors.ErrNoActiveGame.
var ErrNoActiveFrame = fmt.Errorf("no active game frame: %w", apperrors.ErrNoActiveGame)

// Frame is the message endpoint of an embedded game.
type Frame interface {
	Send(ctx context.Context, msg *messages.Message) error
}

// Session is the context of one host instance: who is signed in and which game is running in which frame.
type Session struct {
	ID string

	lock         sync.RWMutex
	identity     *models.Identity
	gameID       string
	frame        Frame
	pendingSaves map[string]int
	lastActive   time.Time

	subscribersLock  sync.Mutex
	subscribers      map[int]chan Event
	nextSubscriberID int

	inbound    queue.Queue
	workerLock sync.Mutex
	workerCtx  context.Context
	stopWorker context.CancelFunc
	workerDone chan struct{}
}

func NewSession(id string, identity *models.Identity) *Session {
	workerCtx, stopWorker := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		identity:     copyIdentity(identity),
		pendingSaves: make(map[string]int),
		lastActive:   time.Now(),
		subscribers:  make(map[int]chan Event),
		inbound:      queue.NewInMemoryQueue(InboundQueueSize),
		workerCtx:    workerCtx,
		stopWorker:   stopWorker,
	}
}

func copyIdentity(identity *models.Identity) *models.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}

// Identity returns the signed-in user, or nil.
func (s *Session) Identity() *models.Identity {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyIdentity(s.identity)
}

// GameID returns the active game, or the empty string.
func (s *Session) GameID() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.gameID
}

func (s *Session) Frame() Frame {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.frame
}

func (s *Session) LastActive() time.Time {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastActive
}

func (s *Session) Touch() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lastActive = time.Now()
}

// Ready makes gameID the active game running in frame and sends it the user's identity, if any.
func (s *Session) Ready(ctx context.Context, gameID string, frame Frame) error {
	s.lock.Lock()
	s.gameID = gameID
	s.frame = frame
	s.lastActive = time.Now()
	identity := copyIdentity(s.identity)
	s.lock.Unlock()

	if identity == nil {
		log.Warn("No user authenticated in session %s, not sending user info", s.ID)
		return nil
	}
	return sendUserInfo(ctx, frame, identity)
}

// SetIdentity records an auth state change. Signing in while a game is running
// sends the new identity to the game. Passing nil signs out.
func (s *Session) SetIdentity(ctx context.Context, identity *models.Identity) error {
	s.lock.Lock()
	s.identity = copyIdentity(identity)
	frame := s.frame
	gameID := s.gameID
	s.lock.Unlock()

	if identity == nil || frame == nil || gameID == "" {
		return nil
	}
	return sendUserInfo(ctx, frame, identity)
}

func sendUserInfo(ctx context.Context, frame Frame, identity *models.Identity) error {
	displayName := identity.DisplayName
	if displayName == "" {
		displayName = "Player"
	}
	msg, err := messages.New(messages.MessageTypeUserInfo, &messages.UserInfo{
		UserID:      identity.UserID,
		DisplayName: displayName,
		Email:       identity.Email,
	})
	if err != nil {
		return err
	}
	if err := frame.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send user info: %v", err)
	}
	return nil
}

// Close clears the active game and frame and forgets outstanding save requests.
func (s *Session) Close() {
	s.lock.Lock()
	wasActive := s.closeLocked()
	s.lock.Unlock()

	if wasActive {
		s.publish(Event{Kind: EventKindGameClosed})
	}
}

// DetachFrame closes the session's game if frame is still its active frame.
func (s *Session) DetachFrame(frame Frame) {
	s.lock.Lock()
	wasActive := false
	if s.frame == frame {
		wasActive = s.closeLocked()
	}
	s.lock.Unlock()

	if wasActive {
		s.publish(Event{Kind: EventKindGameClosed})
	}
}

func (s *Session) closeLocked() bool {
	wasActive := s.gameID != ""
	s.gameID = ""
	s.frame = nil
	s.pendingSaves = make(map[string]int)
	return wasActive
}

// expireIfIdle stops the session if it has no frame, no subscriber and no activity since cutoff.
func (s *Session) expireIfIdle(cutoff time.Time) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.frame != nil || !s.lastActive.Before(cutoff) || s.Subscribers() > 0 {
		return false
	}
	s.stopWorker()
	return true
}

// SendToGame delivers msg to the active frame.
func (s *Session) SendToGame(ctx context.Context, msg *messages.Message) error {
	frame := s.Frame()
	if frame == nil {
		return ErrNoActiveFrame
	}
	return frame.Send(ctx, msg)
}

// AddPendingSave remembers a REQUEST_SAVE so that the SAVE_GAME answering it can be matched.
func (s *Session) AddPendingSave(requestID string, slotNumber int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pendingSaves[requestID] = slotNumber
}

// TakePendingSave returns and forgets the slot of a pending save request.
func (s *Session) TakePendingSave(requestID string) (int, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	slot, ok := s.pendingSaves[requestID]
	if ok {
		delete(s.pendingSaves, requestID)
	}
	return slot, ok
}

func (s *Session) PendingSaves() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.pendingSaves)
}

// Subscribe returns a channel of the session's host events and a function that cancels the subscription.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = EventBufferSize
	}
	ch := make(chan Event, buffer)

	s.subscribersLock.Lock()
	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subscribers[id] = ch
	s.subscribersLock.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subscribersLock.Lock()
			delete(s.subscribers, id)
			s.subscribersLock.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of open subscriptions, i.e. open host views.
func (s *Session) Subscribers() int {
	s.subscribersLock.Lock()
	defer s.subscribersLock.Unlock()
	return len(s.subscribers)
}

func (s *Session) publish(event Event) {
	s.subscribersLock.Lock()
	defer s.subscribersLock.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			log.Warn("Dropping %s event for subscriber %d of session %s", event.Kind, id, s.ID)
		}
	}
}

// Notify shows a transient notification in the host UI.
func (s *Session) Notify(level NotificationLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Debug("[%s] %s", level, msg)
	s.publish(Event{
		Kind:    EventKindNotification,
		Level:   level,
		Message: msg,
	})
}

// RefreshSlots asks open slot pickers to reload.
func (s *Session) RefreshSlots() {
	s.publish(Event{Kind: EventKindRefreshSlots})
}
