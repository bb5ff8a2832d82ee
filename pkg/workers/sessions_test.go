package workers

import (
	"context"
	"testing"
	"time"

	mocks "github.com/cbodonnell/gserver/mocks/github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSweeperWorker_Sweep(t *testing.T) {
	sessions := session.NewManager()
	idle := sessions.Create(nil)
	playing := sessions.Create(nil)
	require.NoError(t, playing.Ready(context.Background(), "snake", mocks.NewMockFrame(t)))

	worker := NewSessionSweeperWorker(NewSessionSweeperWorkerOptions{
		Sessions:    sessions,
		IdleTimeout: time.Hour,
		Now: func() time.Time {
			return time.Now().Add(2 * time.Hour)
		},
	})

	assert.Equal(t, []string{idle.ID}, worker.Sweep())
	_, ok := sessions.Get(idle.ID)
	assert.False(t, ok)
	_, ok = sessions.Get(playing.ID)
	assert.True(t, ok)
}

func TestSessionSweeperWorker_KeepsRecentSessions(t *testing.T) {
	sessions := session.NewManager()
	s := sessions.Create(nil)

	worker := NewSessionSweeperWorker(NewSessionSweeperWorkerOptions{
		Sessions:    sessions,
		IdleTimeout: time.Hour,
	})

	assert.Empty(t, worker.Sweep())
	_, ok := sessions.Get(s.ID)
	assert.True(t, ok)
}

func TestSessionSweeperWorker_KeepsSessionsWithOpenHostViews(t *testing.T) {
	sessions := session.NewManager()
	watched := sessions.Create(nil)
	events, unsubscribe := watched.Subscribe(0)

	worker := NewSessionSweeperWorker(NewSessionSweeperWorkerOptions{
		Sessions:    sessions,
		IdleTimeout: time.Hour,
		Now: func() time.Time {
			return time.Now().Add(2 * time.Hour)
		},
	})

	assert.Empty(t, worker.Sweep())
	_, ok := sessions.Get(watched.ID)
	assert.True(t, ok)
	select {
	case _, open := <-events:
		assert.True(t, open, "the subscription stays open")
	default:
	}

	unsubscribe()
	assert.Equal(t, []string{watched.ID}, worker.Sweep())
	_, ok = sessions.Get(watched.ID)
	assert.False(t, ok)
	assert.True(t, watched.Stopped())
}
