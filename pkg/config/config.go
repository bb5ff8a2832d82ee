// Package config reads the GSERVER_* settings from the environment and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const EnvPrefix = "GSERVER_"

const (
	DefaultDatabaseURL          = "sqlite://gserver.db"
	DefaultBlobURL              = "file://./data/blobs"
	DefaultFramePort            = 8081
	DefaultAuthPort             = 8080
	DefaultAPIPort              = 9090
	DefaultOrphanReapInterval   = 5 * time.Minute
	DefaultSessionSweepInterval = time.Minute
	DefaultSessionIdleTimeout   = 30 * time.Minute
)

type TLSFiles struct {
	CertFile string
	KeyFile  string
}

type Firebase struct {
	ProjectID       string
	APIKey          string
	CredentialsFile string
	StorageBucket   string
}

type Config struct {
	// DatabaseURL selects the document store by scheme: sqlite, postgresql, firestore or memory.
	DatabaseURL string
	// MigrationsDir holds the SQL migrations, one directory per SQL backend.
	MigrationsDir string
	// BlobURL selects the blob store by scheme: file, gs or memory.
	BlobURL string
	// BlobCompression is empty or zstd.
	BlobCompression string
	// ProgressURL optionally moves progress records to a redis:// server.
	ProgressURL string
	// GamesFile replaces the built-in games registry.
	GamesFile string
	// AllowOrigins are the host pages allowed to call the API and auth servers.
	AllowOrigins []string
	// GameOrigins are the origins game frames may connect from. Empty means the registry's origins.
	GameOrigins []string
	Firebase    Firebase

	FramePort int
	APIPort   int
	AuthPort  int
	FrameTLS  *TLSFiles
	APITLS    *TLSFiles
	AuthTLS   *TLSFiles

	OrphanReapInterval   time.Duration
	SessionSweepInterval time.Duration
	SessionIdleTimeout   time.Duration
}

type LookupFunc func(key string) (string, bool)

// Load reads the configuration from the environment. Variables in envFiles fill in whatever
// the environment does not set; missing files are skipped.
func Load(envFiles ...string) (*Config, error) {
	fileEnv := map[string]string{}
	for _, file := range envFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read env file %s: %v", file, err)
		}
		for k, v := range values {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// FromLookup builds the configuration from the GSERVER_* variables returned by lookup.
func FromLookup(lookup LookupFunc) (*Config, error) {
	r := &reader{lookup: lookup}
	cfg := &Config{
		DatabaseURL:     r.string("DATABASE_URL", DefaultDatabaseURL),
		MigrationsDir:   r.string("MIGRATIONS_DIR", "./migrations"),
		BlobURL:         r.string("BLOB_URL", DefaultBlobURL),
		BlobCompression: strings.ToLower(r.string("BLOB_COMPRESSION", "")),
		ProgressURL:     r.string("PROGRESS_URL", ""),
		GamesFile:       r.string("GAMES_FILE", ""),
		AllowOrigins:    r.list("ALLOW_ORIGINS"),
		GameOrigins:     r.list("GAME_ORIGINS"),
		Firebase: Firebase{
			ProjectID:       r.string("FIREBASE_PROJECT_ID", ""),
			APIKey:          r.string("FIREBASE_API_KEY", ""),
			CredentialsFile: r.string("FIREBASE_CREDENTIALS_FILE", ""),
			StorageBucket:   r.string("FIREBASE_STORAGE_BUCKET", ""),
		},
		FramePort:            r.int("FRAME_PORT", DefaultFramePort),
		APIPort:              r.int("API_PORT", DefaultAPIPort),
		AuthPort:             r.int("AUTH_PORT", DefaultAuthPort),
		FrameTLS:             r.tls("FRAME"),
		APITLS:               r.tls("API"),
		AuthTLS:              r.tls("AUTH"),
		OrphanReapInterval:   r.duration("ORPHAN_REAP_INTERVAL", DefaultOrphanReapInterval),
		SessionSweepInterval: r.duration("SESSION_SWEEP_INTERVAL", DefaultSessionSweepInterval),
		SessionIdleTimeout:   r.duration("SESSION_IDLE_TIMEOUT", DefaultSessionIdleTimeout),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}

	switch cfg.BlobCompression {
	case "", "none", "zstd":
	default:
		return nil, fmt.Errorf("unknown %sBLOB_COMPRESSION %q", EnvPrefix, cfg.BlobCompression)
	}
	return cfg, nil
}

type reader struct {
	lookup LookupFunc
	errs   []error
}

func (r *reader) string(key string, fallback string) string {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func (r *reader) list(key string) []string {
	v := r.string(key, "")
	if v == "" {
		return nil
	}
	items := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (r *reader) int(key string, fallback int) int {
	v := r.string(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("failed to parse %s%s: %v", EnvPrefix, key, err))
		return fallback
	}
	return i
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v := r.string(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("failed to parse %s%s: %v", EnvPrefix, key, err))
		return fallback
	}
	if d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s%s must be positive", EnvPrefix, key))
		return fallback
	}
	return d
}

// tls returns the cert and key of a server, or nil unless both are set.
func (r *reader) tls(server string) *TLSFiles {
	certFile := r.string(server+"_TLS_CERT_FILE", "")
	keyFile := r.string(server+"_TLS_KEY_FILE", "")
	if certFile == "" || keyFile == "" {
		return nil
	}
	return &TLSFiles{
		CertFile: certFile,
		KeyFile:  keyFile,
	}
}
