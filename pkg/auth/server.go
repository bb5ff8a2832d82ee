package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/gserver/pkg/api/middleware"
	"github.com/cbodonnell/gserver/pkg/auth/handlers"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/gorilla/mux"
)

type AuthServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAuthServerOptions struct {
	Port    int
	Handler handlers.AuthHandler
	TLS     *TLSConfig
	// AllowOrigins are the host pages allowed to call the auth endpoints from a browser.
	AllowOrigins []string
}

// NewAuthServer creates a new http.Server for handling authentication requests
func NewAuthServer(opts NewAuthServerOptions) *AuthServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.Handler, opts.AllowOrigins),
	}
	return &AuthServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter routes the auth endpoints to handler
func NewRouter(handler handlers.AuthHandler, allowOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.NewCORSMiddleware(allowOrigins))
	r.HandleFunc("/register", handler.HandleRegister()).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/login", handler.HandleLogin()).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/refresh", handler.HandleRefresh()).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/delete", handler.HandleDelete()).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/profile", handler.HandleUpdateProfile()).Methods(http.MethodPost, http.MethodOptions)
	return r
}

// Start starts the AuthServer
func (s *AuthServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("Auth server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("Auth server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Auth server closed")
			return
		}
		log.Error("Auth server error: %v", err)
	}
}

// Stop stops the AuthServer
func (s *AuthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
