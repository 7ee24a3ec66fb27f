package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddress())
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadSize)
	assert.Equal(t, 800*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, 10, cfg.ProgressStart)
	assert.Equal(t, 5, cfg.ProgressStep)
	assert.Equal(t, 85, cfg.ProgressCap)
	assert.Equal(t, SessionStoreMemory, cfg.SessionStore)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BACKEND_URL", "https://api.example.com/")
	t.Setenv("PROGRESS_INTERVAL", "50ms")
	t.Setenv("SESSION_STORE", "REDIS")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://api.example.com", cfg.BackendURL)
	assert.Equal(t, 50*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, SessionStoreRedis, cfg.SessionStore)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadDotenvFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nLOG_FORMAT=text\n"), 0o600))
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"port not numeric", map[string]string{"PORT": "http"}},
		{"backend without scheme", map[string]string{"BACKEND_URL": "localhost:8000"}},
		{"cap at 100", map[string]string{"PROGRESS_CAP": "100"}},
		{"start above cap", map[string]string{"PROGRESS_START": "90"}},
		{"negative upload size", map[string]string{"MAX_UPLOAD_SIZE": "-1"}},
		{"unknown store", map[string]string{"SESSION_STORE": "etcd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestInvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}
