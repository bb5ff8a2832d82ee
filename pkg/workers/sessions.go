package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/session"
)

type SessionSweeperWorker struct {
	sessions    *session.Manager
	interval    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
}

type NewSessionSweeperWorkerOptions struct {
	Sessions *session.Manager
	Interval time.Duration
	// IdleTimeout is how long a session without a game frame or a host view is kept.
	IdleTimeout time.Duration
	Now         func() time.Time
}

func NewSessionSweeperWorker(opts NewSessionSweeperWorkerOptions) *SessionSweeperWorker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionSweeperWorker{
		sessions:    opts.Sessions,
		interval:    opts.Interval,
		idleTimeout: opts.IdleTimeout,
		now:         now,
	}
}

func (w *SessionSweeperWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep removes the sessions idle for longer than the idle timeout.
func (w *SessionSweeperWorker) Sweep() []string {
	removed := w.sessions.RemoveIdle(w.now().Add(-w.idleTimeout))
	for _, id := range removed {
		log.Debug("Removed idle session %s", id)
	}
	return removed
}
