package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/retina-inspector-go/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Host:             "127.0.0.1",
		Port:             "0",
		BackendURL:       "http://127.0.0.1:1",
		RequestTimeout:   time.Second,
		AnalysisTimeout:  time.Second,
		PageFetchTimeout: 100 * time.Millisecond,
		MaxUploadSize:    1 << 20,
		ProgressInterval: 10 * time.Millisecond,
		ProgressStart:    10,
		ProgressStep:     5,
		ProgressCap:      85,
		SessionStore:     config.SessionStoreMemory,
		SessionTTL:       time.Minute,
		AllowedOrigins:   []string{"*"},
	}
}

func TestNewContainerServesHealth(t *testing.T) {
	c, err := NewContainer(context.Background(), testConfig())
	require.NoError(t, err)
	defer c.Close()

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, c.Hub())
	assert.NotNil(t, c.Service())
}

func TestNewContainerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.SessionStore = config.SessionStoreRedis
	cfg.RedisAddr = mr.Addr()

	c, err := NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Len(t, mr.Keys(), 1)
}

func TestNewContainerRejectsUnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStore = "etcd"

	_, err := NewContainer(context.Background(), cfg)
	assert.Error(t, err)
}
