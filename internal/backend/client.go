package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

const (
	MsgAnalysisFailed = models.MsgAnalysisFailed
	MsgUnknownError   = models.MsgUnknownError

	predictPath = "/api/predict"
	pagesPath   = "/api/pages/"
	loginPath   = "/api/auth/login"

	imageField      = "image"
	defaultFilename = "imagen.jpg"

	maxErrorBodyBytes = 64 * 1024
)

// Client talks to the analysis backend over HTTP. Calls are never retried:
// the predict endpoint is expensive and the caller decides what to do on
// failure.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "Retina-Inspector/1.0",
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// NewClientWithHTTPClient creates a client using the given http.Client.
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "Retina-Inspector/1.0",
		httpClient: httpClient,
	}
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Predict uploads the candidate as the multipart field "image" and decodes
// the ensemble answer. onUploaded, if set, is called once when the request
// body has been fully handed to the transport.
func (c *Client) Predict(ctx context.Context, token string, candidate *models.UploadCandidate, onUploaded func()) (*models.PredictResponse, error) {
	if candidate == nil {
		return nil, apperrors.NewValidationError(models.MsgNoFileSelected, nil)
	}

	body, contentType, err := encodeImageForm(candidate)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, &notifyReader{r: body, done: onUploaded})
	if err != nil {
		return nil, apperrors.NewInternalError("invalid backend URL", err)
	}
	req.ContentLength = int64(body.Len())
	req.Header.Set("Content-Type", contentType)

	var out models.PredictResponse
	if err := c.do(req, token, &out, MsgAnalysisFailed); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPage fetches the page document stored under slug.
func (c *Client) GetPage(ctx context.Context, slug string) (*models.PageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pagesPath+url.PathEscape(slug), nil)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid backend URL", err)
	}

	var page models.PageContent
	if err := c.do(req, "", &page, MsgUnknownError); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdatePage replaces the page document under slug. The backend requires an
// admin bearer token.
func (c *Client) UpdatePage(ctx context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error) {
	payload, err := json.Marshal(page)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode page", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+pagesPath+url.PathEscape(slug), bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewInternalError("invalid backend URL", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var updated models.PageContent
	if err := c.do(req, token, &updated, MsgUnknownError); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, credentials models.LoginRequest) (*models.LoginResponse, error) {
	payload, err := json.Marshal(credentials)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewInternalError("invalid backend URL", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out models.LoginResponse
	if err := c.do(req, "", &out, MsgUnknownError); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, apperrors.NewServerError("login response carried no token", http.StatusOK, nil)
	}
	return &out, nil
}

// do sends req and decodes a 2xx JSON answer into out. fallback is the user
// facing message used when the failure carries none of its own.
func (c *Client) do(req *http.Request, token string, out interface{}, fallback string) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError(fallback, err)
		}
		return apperrors.NewNetworkError(fallback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverError(resp, fallback)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewServerError(fallback, resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// serverError builds a ServerError, preferring the message the backend put in
// its body ("detail" or "message").
func serverError(resp *http.Response, fallback string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := fallback
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && strings.TrimSpace(detail) != "" {
			message = detail
		} else if strings.TrimSpace(body.Message) != "" {
			message = body.Message
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.NewUnauthorizedError(message, nil)
	}
	return apperrors.NewServerError(message, resp.StatusCode, fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status))
}

func encodeImageForm(candidate *models.UploadCandidate) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := candidate.Filename
	if filename == "" {
		filename = defaultFilename
	}
	mediaType := candidate.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, filename))
	header.Set("Content-Type", mediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(candidate.Content); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// notifyReader calls done once the wrapped reader reports EOF.
type notifyReader struct {
	r    io.Reader
	done func()
	once sync.Once
}

func (n *notifyReader) Read(p []byte) (int, error) {
	k, err := n.r.Read(p)
	if err == io.EOF && n.done != nil {
		n.once.Do(n.done)
	}
	return k, err
}
