package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cbodonnell/gserver/pkg/messages"
	"github.com/cbodonnell/gserver/pkg/session"
	"nhooyr.io/websocket"
)

var _ session.Frame = &wsFrame{}

// wsFrame is the frame handle of a game connected over a WebSocket.
type wsFrame struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSFrame(conn *websocket.Conn, writeTimeout time.Duration) *wsFrame {
	return &wsFrame{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes msg as a text message
func (f *wsFrame) Send(ctx context.Context, msg *messages.Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()
	if err := f.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}
	return nil
}
