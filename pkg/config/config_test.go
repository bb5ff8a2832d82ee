package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupMap(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, DefaultBlobURL, cfg.BlobURL)
	assert.Equal(t, DefaultFramePort, cfg.FramePort)
	assert.Equal(t, DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, DefaultAuthPort, cfg.AuthPort)
	assert.Nil(t, cfg.AllowOrigins)
	assert.Nil(t, cfg.APITLS)
	assert.Equal(t, DefaultSessionIdleTimeout, cfg.SessionIdleTimeout)
}

func TestFromLookup(t *testing.T) {
	cfg, err := FromLookup(lookupMap(map[string]string{
		"GSERVER_DATABASE_URL":         "postgresql://gserver@localhost:5432/gserver",
		"GSERVER_BLOB_URL":             "gs://saves",
		"GSERVER_BLOB_COMPRESSION":     "ZSTD",
		"GSERVER_PROGRESS_URL":         "redis://localhost:6379/0",
		"GSERVER_ALLOW_ORIGINS":        "http://localhost:3000, https://play.example.com ,",
		"GSERVER_API_PORT":             "9999",
		"GSERVER_API_TLS_CERT_FILE":    "cert.pem",
		"GSERVER_API_TLS_KEY_FILE":     "key.pem",
		"GSERVER_AUTH_TLS_CERT_FILE":   "cert.pem",
		"GSERVER_ORPHAN_REAP_INTERVAL": "30s",
		"GSERVER_FIREBASE_PROJECT_ID":  "gserver-dev",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgresql://gserver@localhost:5432/gserver", cfg.DatabaseURL)
	assert.Equal(t, "gs://saves", cfg.BlobURL)
	assert.Equal(t, "zstd", cfg.BlobCompression)
	assert.Equal(t, "redis://localhost:6379/0", cfg.ProgressURL)
	assert.Equal(t, []string{"http://localhost:3000", "https://play.example.com"}, cfg.AllowOrigins)
	assert.Equal(t, 9999, cfg.APIPort)
	assert.Equal(t, &TLSFiles{CertFile: "cert.pem", KeyFile: "key.pem"}, cfg.APITLS)
	// both files are needed
	assert.Nil(t, cfg.AuthTLS)
	assert.Equal(t, 30*time.Second, cfg.OrphanReapInterval)
	assert.Equal(t, "gserver-dev", cfg.Firebase.ProjectID)
}

func TestFromLookup_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "port", env: map[string]string{"GSERVER_FRAME_PORT": "eighty"}},
		{name: "duration", env: map[string]string{"GSERVER_SESSION_IDLE_TIMEOUT": "soon"}},
		{name: "negative duration", env: map[string]string{"GSERVER_SESSION_SWEEP_INTERVAL": "-1m"}},
		{name: "compression", env: map[string]string{"GSERVER_BLOB_COMPRESSION": "gzip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookupMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GSERVER_GAMES_FILE=games.yaml\nGSERVER_AUTH_PORT=7070\n"), 0o600))
	t.Setenv("GSERVER_AUTH_PORT", "6060")

	cfg, err := Load(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "games.yaml", cfg.GamesFile)
	// the environment wins over the file
	assert.Equal(t, 6060, cfg.AuthPort)
}
