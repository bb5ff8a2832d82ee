package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cbodonnell/gserver/pkg/api/handlers"
	"github.com/cbodonnell/gserver/pkg/api/middleware"
	authproviders "github.com/cbodonnell/gserver/pkg/auth/providers"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/progress"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/slots"
	"github.com/gorilla/mux"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port         int
	TLS          *TLSConfig
	AuthProvider authproviders.AuthProvider
	Sessions     *session.Manager
	Games        *games.Registry
	Coordinator  *saves.Coordinator
	Aggregator   *progress.Aggregator
	// AllowOrigins are the host pages allowed to call the API from a browser.
	AllowOrigins []string
}

// NewAPIServer creates a new http.Server for the host API
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter routes the host API
func NewRouter(opts NewAPIServerOptions) http.Handler {
	requireAuth := middleware.NewAuthMiddleware(opts.AuthProvider)
	optionalAuth := middleware.NewOptionalAuthMiddleware(opts.AuthProvider)
	adapter := slots.NewAdapter(opts.Coordinator)

	r := mux.NewRouter()
	r.Use(middleware.NewCORSMiddleware(opts.AllowOrigins))

	r.HandleFunc("/games", handlers.HandleListGames(opts.Games)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/games/{gameId}", handlers.HandleGetGame(opts.Games)).Methods(http.MethodGet, http.MethodOptions)

	authed := r.NewRoute().Subrouter()
	authed.Use(requireAuth)
	authed.HandleFunc("/profile", handlers.HandleGetProfile(opts.Coordinator, opts.Aggregator)).Methods(http.MethodGet)
	authed.HandleFunc("/progress/{gameId}", handlers.HandleGetProgress(opts.Aggregator)).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{sessionId}/identity", handlers.HandleSignIn(opts.Sessions)).Methods(http.MethodPut)

	sessions := r.NewRoute().Subrouter()
	sessions.Use(optionalAuth)
	sessions.HandleFunc("/sessions", handlers.HandleCreateSession(opts.Sessions)).Methods(http.MethodPost)
	sessions.HandleFunc("/sessions/{sessionId}", handlers.HandleGetSession(opts.Sessions)).Methods(http.MethodGet)
	sessions.HandleFunc("/sessions/{sessionId}/identity", handlers.HandleSignOut(opts.Sessions)).Methods(http.MethodDelete)
	sessions.HandleFunc("/sessions/{sessionId}/game", handlers.HandleCloseGame(opts.Sessions)).Methods(http.MethodDelete)
	sessions.HandleFunc("/sessions/{sessionId}/slots", handlers.HandleGetSlots(opts.Sessions, adapter)).Methods(http.MethodGet)
	sessions.HandleFunc("/sessions/{sessionId}/slots/{slot}/request", handlers.HandleRequestSave(opts.Sessions, adapter)).Methods(http.MethodPost)
	sessions.HandleFunc("/sessions/{sessionId}/saves/{saveId}/load", handlers.HandleLoadSave(opts.Sessions, adapter)).Methods(http.MethodPost)
	sessions.HandleFunc("/sessions/{sessionId}/saves/{saveId}", handlers.HandleDeleteSave(opts.Sessions, adapter)).Methods(http.MethodDelete)
	sessions.HandleFunc("/sessions/{sessionId}/events", handlers.HandleEvents(opts.Sessions, originPatterns(opts.AllowOrigins))).Methods(http.MethodGet)

	// preflight requests carry no token
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	return r
}

// originPatterns turns allowed origins into the host patterns the WebSocket handshake checks.
func originPatterns(allowOrigins []string) []string {
	patterns := make([]string, 0, len(allowOrigins))
	for _, origin := range allowOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			log.Warn("Ignoring invalid origin %q", origin)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
