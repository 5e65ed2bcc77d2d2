package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ADDR", "WEB_DIR", "STORE", "DATABASE_URL", "SQLITE_PATH", "CORS_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT", "CACHE_SIZE", "CACHE_GC_TIME", "SESSION_SWEEP_INTERVAL", "FORWARD_AUTH",
		"OIDC_ISSUER", "OIDC_CLIENT_ID", "OIDC_CLIENT_SECRET", "OIDC_REDIRECT_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 1024, cfg.CacheSize)
	assert.Equal(t, time.Hour, cfg.CacheGCTime)
	assert.Equal(t, 10*time.Minute, cfg.SessionSweepInterval)
	assert.False(t, cfg.OIDC.Enabled())
	assert.False(t, cfg.ForwardAuth, "forward auth is opt-in")
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CACHE_SIZE", "64")
	t.Setenv("CACHE_GC_TIME", "15m")
	t.Setenv("SESSION_SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("FORWARD_AUTH", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 64, cfg.CacheSize)
	assert.Equal(t, 15*time.Minute, cfg.CacheGCTime)
	assert.Equal(t, 10*time.Minute, cfg.SessionSweepInterval, "invalid durations fall back")
	assert.True(t, cfg.ForwardAuth)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set.
	require.NoError(t, os.Unsetenv("STORE"))
	require.NoError(t, os.Unsetenv("ADDR"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE=memory\nADDR=:9090\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("STORE")
		_ = os.Unsetenv("ADDR")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":9090", cfg.Addr)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"postgres without url", Config{Store: StorePostgres, LogLevel: "info"}, "DATABASE_URL"},
		{"postgres with url", Config{Store: StorePostgres, DatabaseURL: "postgres://x", LogLevel: "info"}, ""},
		{"unknown store", Config{Store: "mongo", LogLevel: "info"}, "STORE must be"},
		{"bad log level", Config{Store: StoreMemory, LogLevel: "loud"}, "LOG_LEVEL"},
		{
			"oidc incomplete",
			Config{Store: StoreMemory, LogLevel: "info", OIDC: OIDCConfig{Issuer: "https://id.example"}},
			"OIDC_CLIENT_ID",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	log := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}
