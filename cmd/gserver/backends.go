package main

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go"
	"github.com/cbodonnell/gserver/pkg/auth"
	"github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/config"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories"
	"google.golang.org/api/option"
)

// backends are the stores selected by the configured URLs.
type backends struct {
	cfg         *config.Config
	firebaseApp *firebase.App
	repository  repositories.Repository
	progress    repositories.ProgressRepository
	blobs       blobs.Store
	closers     []func(ctx context.Context) error
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{cfg: cfg}
	if err := b.openRepository(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	if err := b.openProgress(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	if err := b.openBlobs(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	return b, nil
}

// app returns the Firebase app, initializing it on first use.
func (b *backends) app(ctx context.Context) (*firebase.App, error) {
	if b.firebaseApp != nil {
		return b.firebaseApp, nil
	}
	if b.cfg.Firebase.ProjectID == "" {
		return nil, fmt.Errorf("%sFIREBASE_PROJECT_ID environment variable must be set", config.EnvPrefix)
	}
	app, err := auth.NewFirebaseApp(ctx, auth.FirebaseConfig{
		ProjectID:       b.cfg.Firebase.ProjectID,
		StorageBucket:   b.cfg.Firebase.StorageBucket,
		CredentialsFile: b.cfg.Firebase.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %v", err)
	}
	b.firebaseApp = app
	return app, nil
}

func (b *backends) openRepository(ctx context.Context) error {
	u, err := url.Parse(b.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %v", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := strings.TrimPrefix(b.cfg.DatabaseURL, "sqlite://")
		repository, err := repositories.NewSQLiteRepository(ctx, path, filepath.Join(b.cfg.MigrationsDir, "sqlite"))
		if err != nil {
			return fmt.Errorf("failed to create SQLite repository: %v", err)
		}
		b.repository = repository
	case "postgresql", "postgres":
		repository, err := repositories.NewPostgresRepository(ctx, u.String(), filepath.Join(b.cfg.MigrationsDir, "postgres"))
		if err != nil {
			return fmt.Errorf("failed to create Postgres repository: %v", err)
		}
		b.repository = repository
	case "firestore":
		app, err := b.app(ctx)
		if err != nil {
			return err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %v", err)
		}
		b.repository = repositories.NewFirestoreRepository(client)
	case "memory":
		b.repository = repositories.NewInMemoryRepository()
	default:
		return fmt.Errorf("unknown database type %s", u.Scheme)
	}
	b.closers = append(b.closers, b.repository.Close)
	b.progress = b.repository
	log.Info("Using %s document store", u.Scheme)
	return nil
}

func (b *backends) openProgress(ctx context.Context) error {
	if b.cfg.ProgressURL == "" {
		return nil
	}
	u, err := url.Parse(b.cfg.ProgressURL)
	if err != nil {
		return fmt.Errorf("failed to parse progress url: %v", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		repository, err := repositories.NewRedisProgressRepository(ctx, b.cfg.ProgressURL)
		if err != nil {
			return fmt.Errorf("failed to create Redis progress repository: %v", err)
		}
		b.progress = repository
		b.closers = append(b.closers, repository.Close)
	default:
		return fmt.Errorf("unknown progress store type %s", u.Scheme)
	}
	log.Info("Using %s progress store", u.Scheme)
	return nil
}

func (b *backends) openBlobs(ctx context.Context) error {
	u, err := url.Parse(b.cfg.BlobURL)
	if err != nil {
		return fmt.Errorf("failed to parse blob url: %v", err)
	}

	var store blobs.Store
	switch u.Scheme {
	case "file":
		fileStore, err := blobs.NewFileStore(strings.TrimPrefix(b.cfg.BlobURL, "file://"))
		if err != nil {
			return fmt.Errorf("failed to create file blob store: %v", err)
		}
		store = fileStore
	case "gs":
		opts := []option.ClientOption{}
		if b.cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(b.cfg.Firebase.CredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create Cloud Storage client: %v", err)
		}
		b.closers = append(b.closers, func(ctx context.Context) error {
			return client.Close()
		})
		store = blobs.NewGCSStore(client.Bucket(u.Host))
	case "memory":
		store = blobs.NewInMemoryStore()
	default:
		return fmt.Errorf("unknown blob store type %s", u.Scheme)
	}

	switch b.cfg.BlobCompression {
	case "zstd":
		compressed, err := blobs.NewCompressedStore(store)
		if err != nil {
			return fmt.Errorf("failed to create compressed blob store: %v", err)
		}
		store = compressed
	}
	b.blobs = store
	log.Info("Using %s blob store", u.Scheme)
	return nil
}

func (b *backends) Close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.Error("Failed to close backend: %v", err)
		}
	}
	b.closers = nil
}
