package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", 5*time.Second), &calls
}

func TestPredictSendsMultipartImage(t *testing.T) {
	content := []byte("fake-jpeg-bytes")

	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/predict", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		got, _ := io.ReadAll(file)
		assert.Equal(t, content, got)
		assert.Equal(t, "fundus.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.PredictResponse{
			Results: []models.ModelResult{
				{ModelName: "ViT-B/16", Prediction: "Retinopatia Diabetica Leve", Confidence: 0.7, Severity: models.SeverityMild},
			},
			Consensus: &models.ConsensusResult{
				Prediction: "Retinopatia Diabetica Leve", Severity: models.SeverityMild, AgreementCount: 1, TotalModels: 1,
			},
			ImageFilename: "fundus.jpg",
		})
	})

	var uploaded int32
	resp, err := client.Predict(context.Background(), "", &models.UploadCandidate{
		Filename: "fundus.jpg", MediaType: "image/jpeg", Size: int64(len(content)), Content: content,
	}, func() { atomic.AddInt32(&uploaded, 1) })

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&uploaded))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.SeverityMild, resp.Consensus.Severity)
	assert.Equal(t, "fundus.jpg", resp.ImageFilename)
}

func TestBearerHeaderOnlyWithToken(t *testing.T) {
	var seen []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(models.PageContent{Title: "t"})
	})

	_, err := client.UpdatePage(context.Background(), "tok-123", "proceso", &models.PageContent{Title: "t"})
	require.NoError(t, err)
	_, err = client.UpdatePage(context.Background(), "", "proceso", &models.PageContent{Title: "t"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer tok-123", ""}, seen)
}

func TestServerErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantType    apperrors.ErrorType
		wantMessage string
		wantStatus  int
	}{
		{
			name:        "fastapi detail",
			status:      http.StatusServiceUnavailable,
			body:        `{"detail":"Los modelos de IA se estan cargando (2/5). Intente de nuevo en unos segundos."}`,
			wantType:    apperrors.ErrorTypeServer,
			wantMessage: "Los modelos de IA se estan cargando (2/5). Intente de nuevo en unos segundos.",
			wantStatus:  http.StatusBadGateway,
		},
		{
			name:        "message field",
			status:      http.StatusBadRequest,
			body:        `{"message":"El archivo debe ser una imagen"}`,
			wantType:    apperrors.ErrorTypeServer,
			wantMessage: "El archivo debe ser una imagen",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "validation detail list falls back",
			status:      http.StatusUnprocessableEntity,
			body:        `{"detail":[{"loc":["body","image"],"msg":"field required"}]}`,
			wantType:    apperrors.ErrorTypeServer,
			wantMessage: MsgAnalysisFailed,
			wantStatus:  http.StatusUnprocessableEntity,
		},
		{
			name:        "unparseable body",
			status:      http.StatusInternalServerError,
			body:        `<html>oops</html>`,
			wantType:    apperrors.ErrorTypeServer,
			wantMessage: MsgAnalysisFailed,
			wantStatus:  http.StatusBadGateway,
		},
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			body:        `{"detail":"Token invalido"}`,
			wantType:    apperrors.ErrorTypeUnauthorized,
			wantMessage: "Token invalido",
			wantStatus:  http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Predict(context.Background(), "", &models.UploadCandidate{MediaType: "image/png", Content: []byte{1}}, nil)
			require.Error(t, err)

			appErr, ok := apperrors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, appErr.Type)
			assert.Equal(t, tt.wantMessage, appErr.Message)
			assert.Equal(t, tt.wantStatus, appErr.StatusCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retry")
		})
	}
}

func TestNetworkFailureUsesGenericMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second)
	_, err := client.Predict(context.Background(), "", &models.UploadCandidate{MediaType: "image/png", Content: []byte{1}}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, MsgAnalysisFailed, appErr.Message)
}

func TestPredictCancelledContext(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Predict(ctx, "", &models.UploadCandidate{MediaType: "image/png", Content: []byte{1}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetPageEscapesSlug(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pages/a%2Fb", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(models.PageContent{Slug: "a/b", Title: "Escaped"})
	})

	page, err := client.GetPage(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "Escaped", page.Title)
}

func TestLogin(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		var creds models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Credenciales invalidas"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.LoginResponse{
			AccessToken: "jwt", TokenType: "bearer",
			User: models.User{Username: "admin", Email: "admin@example.com", Role: "admin"},
		})
	})

	resp, err := client.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "jwt", resp.AccessToken)
	assert.Equal(t, "admin", resp.User.Role)

	_, err = client.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "nope"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))
}
