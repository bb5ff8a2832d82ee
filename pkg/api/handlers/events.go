package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/session"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// HandleEvents streams the session's host events over a WebSocket until either side goes away.
// originPatterns are the host patterns browsers may open the stream from.
func HandleEvents(sessions *session.Manager, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Error("Failed to accept WebSocket connection: %v", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		// nothing is read from the client; CloseRead handles control frames
		ctx := conn.CloseRead(r.Context())

		events, cancel := s.Subscribe(session.EventBufferSize)
		defer cancel()
		log.Debug("Streaming events of session %s", s.ID)

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case event, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}
				if err := writeEvent(ctx, conn, event); err != nil {
					log.Debug("Stopped streaming events of session %s: %v", s.ID, err)
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
