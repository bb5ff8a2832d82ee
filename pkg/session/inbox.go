package session

import (
	"context"
	"errors"

	"github.com/cbodonnell/gserver/pkg/log"
)

// InboundQueueSize is the number of frame messages that may wait for the session's worker.
// Enqueue blocks once it is reached.
const InboundQueueSize = 64

// ErrStopped is returned by Enqueue once the session was removed.
var ErrStopped = errors.New("session stopped")

// Inbound is a raw message from one of the session's frames.
type Inbound struct {
	Frame  Frame
	Origin string
	Data   []byte
	// Closed marks the end of Frame's connection. The worker detaches the frame
	// after every message the frame sent before it.
	Closed bool
	// Done is closed once the worker is through with the message. Optional.
	Done chan struct{}
}

// InboundHandler runs one frame message to completion.
type InboundHandler func(ctx context.Context, s *Session, msg *Inbound)

// StartWorker starts the single worker that handles the session's inbound messages,
// whichever connection they arrived on. Later calls are no-ops.
func (s *Session) StartWorker(handler InboundHandler) {
	s.workerLock.Lock()
	defer s.workerLock.Unlock()
	if s.workerDone != nil || s.workerCtx.Err() != nil {
		return
	}
	s.workerDone = make(chan struct{})
	go s.work(handler, s.workerDone)
}

func (s *Session) work(handler InboundHandler, done chan struct{}) {
	defer close(done)
	for s.workerCtx.Err() == nil {
		item, err := s.inbound.Dequeue(s.workerCtx)
		if err != nil {
			break
		}

		msg := item.(*Inbound)
		if msg.Closed {
			s.DetachFrame(msg.Frame)
		} else {
			handler(s.workerCtx, s, msg)
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}

	pending := s.inbound.ReadAllMessages()
	if len(pending) > 0 {
		log.Warn("Dropping %d unprocessed messages of session %s", len(pending), s.ID)
	}
	for _, item := range pending {
		if msg := item.(*Inbound); msg.Done != nil {
			close(msg.Done)
		}
	}
}

// Enqueue hands msg to the session's worker. It blocks while the queue is full,
// until ctx is done or the session is stopped.
func (s *Session) Enqueue(ctx context.Context, msg *Inbound) error {
	if s.workerCtx.Err() != nil {
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.workerCtx, cancel)
	defer stop()

	if err := s.inbound.Enqueue(ctx, msg); err != nil {
		if s.workerCtx.Err() != nil {
			return ErrStopped
		}
		return err
	}
	return nil
}

// Stop ends the worker and waits for the message in progress. Queued messages are dropped.
func (s *Session) Stop() {
	s.workerLock.Lock()
	s.stopWorker()
	done := s.workerDone
	s.workerLock.Unlock()

	if done != nil {
		<-done
	}
}

// Stopped reports whether the session stopped accepting messages.
func (s *Session) Stopped() bool {
	return s.workerCtx.Err() != nil
}
