package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/gserver/pkg/api/middleware"
	authproviders "github.com/cbodonnell/gserver/pkg/auth/providers"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
)

const (
	// DefaultMaxMessageSize bounds a frame message. Saves carry thumbnails, hence the size.
	DefaultMaxMessageSize = 8 << 20
	DefaultWriteTimeout   = 10 * time.Second
)

// FrameHandler accepts game frame connections on /frame. Every connection of a session
// feeds the session's inbound queue, whose single worker handles messages one at a time
// in arrival order. A full queue stalls the reading connection.
type FrameHandler struct {
	router         *Router
	sessions       *session.Manager
	origins        *OriginPolicy
	authProvider   authproviders.AuthProvider
	maxMessageSize int64
	writeTimeout   time.Duration
}

type NewFrameHandlerOptions struct {
	Router   *Router
	Sessions *session.Manager
	Origins  *OriginPolicy
	// AuthProvider verifies the token of connections that start their own session. Optional.
	AuthProvider   authproviders.AuthProvider
	MaxMessageSize int64
	WriteTimeout   time.Duration
}

func NewFrameHandler(opts NewFrameHandlerOptions) *FrameHandler {
	h := &FrameHandler{
		router:         opts.Router,
		sessions:       opts.Sessions,
		origins:        opts.Origins,
		authProvider:   opts.AuthProvider,
		maxMessageSize: opts.MaxMessageSize,
		writeTimeout:   opts.WriteTimeout,
	}
	if h.maxMessageSize <= 0 {
		h.maxMessageSize = DefaultMaxMessageSize
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}
	return h
}

// ServeHTTP attaches the connection to the session named by the session query parameter,
// or to a new session that lives as long as the connection.
func (h *FrameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.origins.Allowed(origin) {
		log.Warn("Message from unauthorized origin: %q", origin)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	sess, owned, err := h.resolveSession(r)
	if err != nil {
		log.Error("Failed to resolve session: %v", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// the origin was checked against the allow-list above
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error("Failed to accept WebSocket connection: %v", err)
		return
	}
	conn.SetReadLimit(h.maxMessageSize)
	log.Debug("New frame connection from %s for session %s", origin, sess.ID)

	sess.Touch()
	sess.StartWorker(h.handleInbound)
	h.serveConn(r.Context(), conn, sess, origin)

	if owned {
		h.sessions.Remove(sess.ID)
	}
}

func (h *FrameHandler) resolveSession(r *http.Request) (*session.Session, bool, error) {
	if id := r.URL.Query().Get("session"); id != "" {
		sess, ok := h.sessions.Get(id)
		if !ok {
			return nil, false, nil
		}
		return sess, false, nil
	}

	if h.authProvider == nil {
		return h.sessions.Create(nil), true, nil
	}
	identity, err := middleware.Authenticate(r, h.authProvider)
	if err != nil {
		return nil, false, err
	}
	return h.sessions.Create(identity), true, nil
}

func (h *FrameHandler) handleInbound(ctx context.Context, sess *session.Session, msg *session.Inbound) {
	h.router.HandleRaw(ctx, sess, Source{Frame: msg.Frame, Origin: msg.Origin}, msg.Data)
}

// serveConn hands the messages of conn to the session's worker until the connection closes.
func (h *FrameHandler) serveConn(ctx context.Context, conn *websocket.Conn, sess *session.Session, origin string) {
	frame := newWSFrame(conn, h.writeTimeout)

	defer func() {
		h.detach(sess, frame)
		conn.Close(websocket.StatusNormalClosure, "")
		log.Debug("Frame connection closed for session %s", sess.ID)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Error("Error reading frame message for session %s: %v", sess.ID, err)
			}
			return
		}
		sess.Touch()
		if err := sess.Enqueue(ctx, &session.Inbound{Frame: frame, Origin: origin, Data: data}); err != nil {
			log.Warn("Closing frame connection of session %s: %v", sess.ID, err)
			return
		}
	}
}

// detach queues the end of frame's connection behind its messages and waits until the worker
// got to it, so the session's game is only closed once the frame's last message was handled.
func (h *FrameHandler) detach(sess *session.Session, frame *wsFrame) {
	closed := &session.Inbound{Frame: frame, Closed: true, Done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()

	if err := sess.Enqueue(ctx, closed); err != nil {
		sess.DetachFrame(frame)
		return
	}
	select {
	case <-closed.Done:
	case <-ctx.Done():
		log.Warn("Timed out waiting for the messages of a closed frame in session %s", sess.ID)
	}
}

// FrameServer serves FrameHandler on its own port
type FrameServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewFrameServerOptions struct {
	Port    int
	TLS     *TLSConfig
	Handler *FrameHandler
}

func NewFrameServer(opts NewFrameServerOptions) *FrameServer {
	r := mux.NewRouter()
	r.Handle("/frame", opts.Handler).Methods(http.MethodGet)
	return &FrameServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: r,
		},
		tls: opts.TLS,
	}
}

// Start starts the FrameServer
func (s *FrameServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("Frame server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("Frame server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Frame server closed")
			return
		}
		log.Error("Frame server error: %v", err)
	}
}

// Stop stops the FrameServer
func (s *FrameServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
