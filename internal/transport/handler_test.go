package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/retina-inspector-go/internal/analysis"
	"github.com/anime-shed/retina-inspector-go/internal/config"
	"github.com/anime-shed/retina-inspector-go/internal/content"
	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/logger"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
	"github.com/anime-shed/retina-inspector-go/internal/service"
	"github.com/anime-shed/retina-inspector-go/internal/session"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
	"github.com/anime-shed/retina-inspector-go/pkg/validation"
)

const testMaxUpload = 1024

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type gatedPredictor struct {
	mu    sync.Mutex
	gate  chan struct{}
	calls int
}

func (p *gatedPredictor) Predict(ctx context.Context, _ string, candidate *models.UploadCandidate, onUploaded func()) (*models.PredictResponse, error) {
	p.mu.Lock()
	p.calls++
	gate := p.gate
	p.mu.Unlock()

	onUploaded()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, apperrors.NewNetworkError(models.MsgAnalysisFailed, ctx.Err())
		}
	}
	return &models.PredictResponse{
		ImageFilename: candidate.Filename,
		Results: []models.ModelResult{
			{ModelName: "ResNet50+EA", Prediction: "Retinopatia Diabetica Moderada", Severity: models.SeverityModerate, Confidence: 0.8,
				Probabilities: []float64{0.05, 0.05, 0.8, 0.05, 0.05}},
		},
	}, nil
}

type downPages struct{}

func (downPages) GetPage(context.Context, string) (*models.PageContent, error) {
	return nil, apperrors.NewNetworkError("down", nil)
}

func (downPages) UpdatePage(_ context.Context, _ string, _ string, page *models.PageContent) (*models.PageContent, error) {
	return page, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, creds models.LoginRequest) (*models.LoginResponse, error) {
	if creds.Password != "secret" {
		return nil, apperrors.NewUnauthorizedError("Credenciales invalidas", nil)
	}
	return &models.LoginResponse{AccessToken: "jwt", User: models.User{Username: creds.Username}}, nil
}

type testEnv struct {
	handler   http.Handler
	hub       *Hub
	predictor *gatedPredictor
	metrics   *observer.MetricsObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		AnalysisTimeout:  5 * time.Second,
		PageFetchTimeout: time.Second,
		MaxUploadSize:    testMaxUpload,
		AllowedOrigins:   []string{"*"},
	}

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	hub := NewHub(cfg.AllowedOrigins)
	publisher.Subscribe(metrics)
	publisher.Subscribe(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	predictor := &gatedPredictor{}
	svc := service.NewWorkflowService(service.Dependencies{
		Store:     session.NewMemoryStore(time.Hour),
		Predictor: predictor,
		Auth:      fakeAuth{},
		Pages:     content.NewLoader(downPages{}, time.Second, logger.Logger),
		Validator: validation.NewImageValidatorWithLimits(validation.ImageLimits{MaxSize: testMaxUpload}),
		Events:    publisher,
		Options:   analysis.DefaultOptions().WithProgress(time.Millisecond, 10, 5, 85),
		Logger:    logger.Logger,
	})
	t.Cleanup(func() {
		svc.Close()
		cancel()
	})

	return &testEnv{
		handler:   NewHandler(svc, hub, metrics, cfg),
		hub:       hub,
		predictor: predictor,
		metrics:   metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var view service.SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, view.ID, w.Header().Get(HeaderSessionID))
	return view.ID
}

func (e *testEnv) acceptConsent(t *testing.T, id string) {
	t.Helper()
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/sessions/"+id+"/picker", nil, nil).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/sessions/"+id+"/consent/choice", strings.NewReader(`{"choice":"accept"}`), nil).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/sessions/"+id+"/consent/confirm", nil, nil).Code)
}

func imageForm(t *testing.T, filename, mediaType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, id, filename, mediaType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := imageForm(t, filename, mediaType, data)
	return e.do(t, http.MethodPost, "/api/sessions/"+id+"/image", body, map[string]string{"Content-Type": contentType})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"available"`)
}

func TestAnalysisWorkflowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.acceptConsent(t, id)

	w := env.upload(t, id, "fundus.png", "image/png", pngHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "data:image/png;base64,")

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/analysis?wait=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view service.AnalysisView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, analysis.StatusSucceeded, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Presentation)
	assert.Equal(t, "Moderada", view.Presentation.Consensus.Badge.Label)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/analysis/report.md", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "ResNet50+EA")

	w = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"successful_analyses":1`)

	w = env.do(t, http.MethodDelete, "/api/sessions/"+id+"/analysis", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"idle"`)
}

func TestUploadRequiresConsent(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.upload(t, id, "fundus.png", "image/png", pngHeader)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, service.MsgConsentRequired, decodeError(t, w).Message)
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.acceptConsent(t, id)

	tests := []struct {
		name      string
		filename  string
		mediaType string
		data      []byte
		message   string
	}{
		{"not an image", "notes.txt", "text/plain", []byte("hola"), validation.MsgInvalidImageType},
		{"too large", "big.png", "image/png", bytes.Repeat([]byte{1}, testMaxUpload+1), validation.ImageTooLargeMessage(testMaxUpload)},
		{"declared image with text content", "fake.png", "image/png", []byte("hola, esto no es una imagen"), validation.MsgInvalidImageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.upload(t, id, tt.filename, tt.mediaType, tt.data)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decodeError(t, w).Message)
		})
	}
}

func TestUploadOverBodyLimitIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.acceptConsent(t, id)

	data := bytes.Repeat([]byte{1}, testMaxUpload+multipartOverhead+1)
	w := env.upload(t, id, "huge.png", "image/png", data)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "El archivo es demasiado grande. Tamano maximo: 1KB", decodeError(t, w).Message)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/analysis", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view service.AnalysisView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "El archivo es demasiado grande. Tamano maximo: 1KB", view.Error)
	assert.Nil(t, view.Candidate)
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.acceptConsent(t, id)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("other", "x"))
	require.NoError(t, writer.Close())

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/image", body, map[string]string{"Content-Type": writer.FormDataContentType()})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.MsgNoFileSelected, decodeError(t, w).Message)
}

func TestSubmitWithoutImage(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.acceptConsent(t, id)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/analysis", nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.MsgNoFileSelected, decodeError(t, w).Message)
	assert.Equal(t, 0, env.predictor.calls)
}

func TestConsentRejectRedirects(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/sessions/"+id+"/picker", nil, nil).Code)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/consent/confirm", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/sessions/"+id+"/consent/choice", strings.NewReader(`{"choice":"reject"}`), nil).Code)
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/consent/confirm", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.GateActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "redirect", resp.Action)
	assert.Equal(t, "/", resp.Redirect)
	assert.Equal(t, "rejected", resp.Consent)
}

func TestPagesFallBackWhenBackendDown(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/pages/proceso", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var page models.PageContent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "Proceso de Analisis", page.Title)
	assert.Empty(t, page.Sections)
}

func TestAdminLoginAndPageUpdate(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	page := `{"title":"Nuevo","subtitle":"x","sections":[]}`

	w := env.do(t, http.MethodPut, "/api/pages/proceso", strings.NewReader(page), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/pages/proceso", strings.NewReader(page), map[string]string{HeaderSessionID: id})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"wrong"}`), map[string]string{HeaderSessionID: id})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Credenciales invalidas", decodeError(t, w).Message)

	w = env.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"secret"}`), map[string]string{HeaderSessionID: id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "jwt")

	w = env.do(t, http.MethodPut, "/api/pages/proceso", strings.NewReader(page), map[string]string{HeaderSessionID: id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Nuevo")

	w = env.do(t, http.MethodPost, "/api/auth/logout", nil, map[string]string{HeaderSessionID: id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"logged_in":false`)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/sessions/nope", "/api/sessions/nope/analysis"} {
		w := env.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := env.do(t, http.MethodDelete, "/api/sessions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamDeliversSessionEvents(t *testing.T) {
	env := newTestEnv(t)
	env.predictor.gate = make(chan struct{})
	id := env.createSession(t)
	env.acceptConsent(t, id)
	require.Equal(t, http.StatusOK, env.upload(t, id, "fundus.png", "image/png", pngHeader).Code)

	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + id + "/analysis/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first["event_type"])

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/analysis", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	close(env.predictor.gate)

	lastProgress := 0
	for {
		var event observer.AnalysisEvent
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, id, event.SessionID)
		assert.GreaterOrEqual(t, event.Progress, lastProgress)
		lastProgress = event.Progress
		if event.EventType == observer.AnalysisSucceeded {
			assert.Equal(t, 100, event.Progress)
			break
		}
	}
}

func TestDetermineStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", apperrors.NewConflictError("busy", nil), http.StatusConflict},
		{"deadline", fmt.Errorf("predict: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"canceled", fmt.Errorf("predict: %w", context.Canceled), statusClientClosedRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineStatusCode(tt.err))
		})
	}
}
