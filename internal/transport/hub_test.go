package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/retina-inspector-go/internal/observer"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://app.example"}, "https://app.example", true},
		{"case insensitive", []string{"https://app.example"}, "HTTPS://APP.EXAMPLE", true},
		{"not listed", []string{"https://app.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://app.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}

func TestHubRoutesEventsBySession(t *testing.T) {
	hub := NewHub([]string{"*"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	mine := &Client{hub: hub, send: make(chan []byte, 4), sessionID: "a"}
	other := &Client{hub: hub, send: make(chan []byte, 4), sessionID: "b"}
	hub.register <- mine
	hub.register <- other

	hub.OnEvent(context.Background(), observer.AnalysisEvent{EventType: observer.AnalysisProgress, SessionID: "a", Progress: 15})

	select {
	case data := <-mine.send:
		var event observer.AnalysisEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, 15, event.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case <-other.send:
		t.Fatal("event delivered to another session")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 2, hub.ClientCount())

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-mine.send
		return !open
	}, time.Second, 5*time.Millisecond)
}
