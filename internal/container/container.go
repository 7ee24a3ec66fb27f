package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anime-shed/retina-inspector-go/internal/analysis"
	"github.com/anime-shed/retina-inspector-go/internal/backend"
	"github.com/anime-shed/retina-inspector-go/internal/config"
	"github.com/anime-shed/retina-inspector-go/internal/content"
	"github.com/anime-shed/retina-inspector-go/internal/factory"
	"github.com/anime-shed/retina-inspector-go/internal/logger"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
	"github.com/anime-shed/retina-inspector-go/internal/repository"
	"github.com/anime-shed/retina-inspector-go/internal/service"
	"github.com/anime-shed/retina-inspector-go/internal/session"
	"github.com/anime-shed/retina-inspector-go/internal/transport"
	"github.com/anime-shed/retina-inspector-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config          *config.Config
	backendClient   *backend.Client
	pageRepository  repository.PageRepository
	sessionStore    session.Store
	publisher       *observer.EventPublisher
	metrics         *observer.MetricsObserver
	hub             *transport.Hub
	workflowService service.WorkflowService
	handler         http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	store, err := factory.NewStoreFactory(cfg).CreateStore(ctx, factory.StoreType(cfg.SessionStore))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	// Build dependency graph
	backendClient := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout)
	pageRepository := repository.NewBackendPageRepository(backendClient)
	pageLoader := content.NewLoader(pageRepository, cfg.PageFetchTimeout, logger.Logger)

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	hub := transport.NewHub(cfg.AllowedOrigins)
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)
	publisher.Subscribe(hub)

	options := analysis.DefaultOptions().
		WithProgress(cfg.ProgressInterval, cfg.ProgressStart, cfg.ProgressStep, cfg.ProgressCap).
		WithRequestTimeout(cfg.AnalysisTimeout)

	workflowService := service.NewWorkflowService(service.Dependencies{
		Store:     store,
		Predictor: backendClient,
		Auth:      backendClient,
		Pages:     pageLoader,
		Validator: validation.NewImageValidatorWithLimits(validation.ImageLimits{MaxSize: cfg.MaxUploadSize}),
		Events:    publisher,
		Options:   options,
		Logger:    logger.Logger,
	})
	handler := transport.NewHandler(workflowService, hub, metrics, cfg)

	return &Container{
		config:          cfg,
		backendClient:   backendClient,
		pageRepository:  pageRepository,
		sessionStore:    store,
		publisher:       publisher,
		metrics:         metrics,
		hub:             hub,
		workflowService: workflowService,
		handler:         handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Hub returns the websocket hub, which must be run for streams to work
func (c *Container) Hub() *transport.Hub {
	return c.hub
}

// Service returns the workflow service
func (c *Container) Service() service.WorkflowService {
	return c.workflowService
}

// Close cancels running analyses and releases the session store
func (c *Container) Close() error {
	c.workflowService.Close()
	return c.sessionStore.Close()
}
