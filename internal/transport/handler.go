package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/retina-inspector-go/internal/config"
	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/logger"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
	"github.com/anime-shed/retina-inspector-go/internal/service"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

const (
	// HeaderSessionID carries the session for routes not scoped by path.
	HeaderSessionID = "X-Session-ID"

	imageField = "image"

	// multipartOverhead leaves room for boundaries and part headers on top
	// of the largest accepted image.
	multipartOverhead = 1 << 20

	// nginx's code for a request the client abandoned
	statusClientClosedRequest = 499

	msgRequestFailed  = "request processing failed"
	msgInvalidRequest = "Solicitud invalida"
	msgMissingSession = "Falta el identificador de sesion"
)

// NewHandler builds the gateway router.
func NewHandler(svc service.WorkflowService, hub *Hub, metrics *observer.MetricsObserver, cfg *config.Config) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		corsMiddleware(cfg.AllowedOrigins),
		requestSizeLimiter(cfg.MaxUploadSize+multipartOverhead),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/metrics", metricsHandler(metrics, hub))

	api := r.Group("/api")
	{
		api.GET("/pages/:slug", getPage(svc, cfg))
		api.PUT("/pages/:slug", updatePage(svc, cfg))

		api.POST("/auth/login", login(svc, cfg))
		api.POST("/auth/logout", logout(svc))

		api.POST("/sessions", createSession(svc))
		api.GET("/sessions/:id", getSession(svc))
		api.DELETE("/sessions/:id", deleteSession(svc))

		api.POST("/sessions/:id/picker", requestPicker(svc))
		api.PUT("/sessions/:id/consent/choice", chooseConsent(svc))
		api.POST("/sessions/:id/consent/confirm", confirmConsent(svc))
		api.DELETE("/sessions/:id/consent/dialog", dismissConsent(svc))

		api.POST("/sessions/:id/image", uploadImage(svc, cfg.MaxUploadSize))
		api.POST("/sessions/:id/analysis", submitAnalysis(svc, cfg))
		api.GET("/sessions/:id/analysis", getAnalysis(svc))
		api.DELETE("/sessions/:id/analysis", resetAnalysis(svc))
		api.GET("/sessions/:id/analysis/stream", streamAnalysis(svc, hub))
		api.GET("/sessions/:id/analysis/report.md", analysisReport(svc))
	}

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func metricsHandler(metrics *observer.MetricsObserver, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"analysis":       metrics.GetMetrics(),
			"stream_clients": hub.ClientCount(),
		})
	}
}

func getPage(svc service.WorkflowService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.PageFetchTimeout)
		defer cancel()

		c.JSON(http.StatusOK, svc.GetPage(ctx, c.Param("slug")))
	}
}

func updatePage(svc service.WorkflowService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := headerSession(c)
		if !ok {
			return
		}

		var page models.PageContent
		if err := c.ShouldBindJSON(&page); err != nil {
			respondError(c, http.StatusBadRequest, msgInvalidRequest, apperrors.NewValidationError(msgInvalidRequest, err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		updated, err := svc.UpdatePage(ctx, id, c.Param("slug"), &page)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func login(svc service.WorkflowService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := headerSession(c)
		if !ok {
			return
		}

		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, msgInvalidRequest, apperrors.NewValidationError(msgInvalidRequest, err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := svc.Login(ctx, id, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func logout(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := headerSession(c)
		if !ok {
			return
		}
		view, err := svc.Logout(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func createSession(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.CreateSession(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.Header(HeaderSessionID, view.ID)
		c.JSON(http.StatusCreated, view)
	}
}

func getSession(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func deleteSession(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func requestPicker(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := svc.RequestPicker(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func chooseConsent(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ConsentChoiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, msgInvalidRequest, apperrors.NewValidationError(msgInvalidRequest, err))
			return
		}

		view, err := svc.ChooseConsent(c.Request.Context(), c.Param("id"), req.Choice)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func confirmConsent(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := svc.ConfirmConsent(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func dismissConsent(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.DismissConsent(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func uploadImage(svc service.WorkflowService, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()

		fh, err := c.FormFile(imageField)
		if err != nil {
			switch {
			case isBodyTooLarge(err):
				rejErr := svc.RejectOversizedImage(ctx, id)
				if apperrors.IsType(rejErr, apperrors.ErrorTypeValidation) {
					respondError(c, http.StatusRequestEntityTooLarge, msgRequestFailed, rejErr)
				} else {
					fail(c, rejErr)
				}
			case errors.Is(err, http.ErrMissingFile):
				_, selErr := svc.SelectImage(ctx, id, nil)
				fail(c, selErr)
			default:
				respondError(c, http.StatusBadRequest, msgInvalidRequest, apperrors.NewValidationError(msgInvalidRequest, err))
			}
			return
		}

		candidate, err := readCandidate(fh, maxSize)
		if err != nil {
			fail(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"session_id": id,
			"filename":   candidate.Filename,
			"media_type": candidate.MediaType,
			"size":       candidate.Size,
		}).Debug("Image received")

		view, err := svc.SelectImage(ctx, id, candidate)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// submitAnalysis starts the analysis and answers 202 immediately, or with
// ?wait=true blocks until it has finished.
func submitAnalysis(svc service.WorkflowService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))

		if !wait {
			view, err := svc.StartAnalysis(c.Request.Context(), id)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusAccepted, view)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.AnalysisTimeout)
		defer cancel()

		startTime := time.Now()
		view, err := svc.SubmitAnalysis(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"session_id":         id,
			"status":             view.Status,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Analysis request completed")
		c.JSON(http.StatusOK, view)
	}
}

func getAnalysis(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.GetAnalysis(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func resetAnalysis(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.ResetAnalysis(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func streamAnalysis(svc service.WorkflowService, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		view, err := svc.GetAnalysis(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		hub.Serve(c.Writer, c.Request, id, gin.H{
			"event_type": "snapshot",
			"session_id": id,
			"analysis":   view,
		})
	}
}

func analysisReport(svc service.WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := svc.WriteReport(c.Request.Context(), c.Param("id"), &buf); err != nil {
			fail(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="informe-retinopatia.md"`)
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", buf.Bytes())
	}
}

// readCandidate turns the uploaded part into a candidate. Oversized files are
// not read; their declared size is enough for validation to reject them.
func readCandidate(fh *multipart.FileHeader, maxSize int64) (*models.UploadCandidate, error) {
	candidate := &models.UploadCandidate{
		Filename:  fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Size:      fh.Size,
	}
	if fh.Size > maxSize {
		return candidate, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read upload", err)
	}
	candidate.Content = data
	candidate.Size = int64(len(data))
	return candidate, nil
}

func headerSession(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.GetHeader(HeaderSessionID))
	if id == "" {
		respondError(c, http.StatusBadRequest, msgMissingSession, apperrors.NewValidationError(msgMissingSession, nil))
		return "", false
	}
	return id, true
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}
		if id := c.Param("id"); id != "" {
			fields["session_id"] = id
		} else if id := c.GetHeader(HeaderSessionID); id != "" {
			fields["session_id"] = id
		}
		logger.WithFields(fields).Info("Request handled")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderSessionID}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Disposition", HeaderSessionID}
	corsConfig.MaxAge = 12 * time.Hour

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	return cors.New(corsConfig)
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), msgRequestFailed, err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// the caller went away or the analysis was reset
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	respondError(c, determineStatusCode(err), msgRequestFailed, err)
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	// AppError messages are written for end users; anything else is not.
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Type != apperrors.ErrorTypeInternal && appErr.Message != "" {
		message = appErr.Message
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}
