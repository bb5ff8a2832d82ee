package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/gserver/pkg/api"
	"github.com/cbodonnell/gserver/pkg/auth"
	authhandlers "github.com/cbodonnell/gserver/pkg/auth/handlers"
	authproviders "github.com/cbodonnell/gserver/pkg/auth/providers"
	"github.com/cbodonnell/gserver/pkg/config"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/cbodonnell/gserver/pkg/gateway"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/progress"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/cbodonnell/gserver/pkg/session"
	"github.com/cbodonnell/gserver/pkg/version"
	"github.com/cbodonnell/gserver/pkg/workers"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type server interface {
	Start()
	Stop(ctx context.Context) error
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the frame, API and auth servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log.Info("Starting gserver version %s", version.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := games.Load(cfg.GamesFile)
	if err != nil {
		return fmt.Errorf("failed to load games registry: %v", err)
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	app, err := b.app(ctx)
	if err != nil {
		return err
	}
	authProvider, err := authproviders.NewFirebaseAuthProvider(ctx, app)
	if err != nil {
		return fmt.Errorf("failed to create Firebase auth provider: %v", err)
	}

	coordinator := saves.NewCoordinator(saves.NewCoordinatorOptions{
		Saves:   b.repository,
		Orphans: b.repository,
		Blobs:   b.blobs,
		Slots:   registry,
	})
	aggregator := progress.NewAggregator(progress.NewAggregatorOptions{
		Repository: b.progress,
	})
	sessions := session.NewManager()

	gameOrigins := cfg.GameOrigins
	if len(gameOrigins) == 0 {
		gameOrigins = registry.Origins()
	}
	originPolicy, err := gateway.NewOriginPolicy(gameOrigins)
	if err != nil {
		return fmt.Errorf("failed to create origin policy: %v", err)
	}
	log.Info("Accepting game frames from %v", originPolicy.Origins())

	servers := []server{
		gateway.NewFrameServer(gateway.NewFrameServerOptions{
			Port: cfg.FramePort,
			TLS:  frameTLS(cfg.FrameTLS),
			Handler: gateway.NewFrameHandler(gateway.NewFrameHandlerOptions{
				Router: gateway.NewRouter(gateway.NewRouterOptions{
					Coordinator: coordinator,
					Aggregator:  aggregator,
					Games:       registry,
				}),
				Sessions:     sessions,
				Origins:      originPolicy,
				AuthProvider: authProvider,
			}),
		}),
		api.NewAPIServer(api.NewAPIServerOptions{
			Port:         cfg.APIPort,
			TLS:          apiTLS(cfg.APITLS),
			AuthProvider: authProvider,
			Sessions:     sessions,
			Games:        registry,
			Coordinator:  coordinator,
			Aggregator:   aggregator,
			AllowOrigins: cfg.AllowOrigins,
		}),
	}
	if cfg.Firebase.APIKey != "" {
		servers = append(servers, auth.NewAuthServer(auth.NewAuthServerOptions{
			Port: cfg.AuthPort,
			TLS:  authTLS(cfg.AuthTLS),
			Handler: authhandlers.NewFirebaseAuthHandler(authhandlers.NewFirebaseAuthHandlerOptions{
				APIKey: cfg.Firebase.APIKey,
			}),
			AllowOrigins: cfg.AllowOrigins,
		}))
	} else {
		log.Warn("%sFIREBASE_API_KEY is not set, not starting the auth server", config.EnvPrefix)
	}

	go workers.NewOrphanReaperWorker(workers.NewOrphanReaperWorkerOptions{
		Orphans:  b.repository,
		Blobs:    b.blobs,
		Interval: cfg.OrphanReapInterval,
	}).Start(ctx)
	go workers.NewSessionSweeperWorker(workers.NewSessionSweeperWorkerOptions{
		Sessions:    sessions,
		Interval:    cfg.SessionSweepInterval,
		IdleTimeout: cfg.SessionIdleTimeout,
	}).Start(ctx)

	for _, s := range servers {
		go s.Start()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	log.Info("Received %s, shutting down", sig)
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	for _, s := range servers {
		if err := s.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop server: %v", err)
		}
	}
	return nil
}

func frameTLS(files *config.TLSFiles) *gateway.TLSConfig {
	if files == nil {
		return nil
	}
	return &gateway.TLSConfig{CertFile: files.CertFile, KeyFile: files.KeyFile}
}

func apiTLS(files *config.TLSFiles) *api.TLSConfig {
	if files == nil {
		return nil
	}
	return &api.TLSConfig{CertFile: files.CertFile, KeyFile: files.KeyFile}
}

func authTLS(files *config.TLSFiles) *auth.TLSConfig {
	if files == nil {
		return nil
	}
	return &auth.TLSConfig{CertFile: files.CertFile, KeyFile: files.KeyFile}
}
