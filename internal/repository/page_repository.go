package repository

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// BackendPageRepository implements PageRepository over the backend pages API
type BackendPageRepository struct {
	backend PageBackend
}

// NewBackendPageRepository creates a page repository backed by the analysis backend
func NewBackendPageRepository(backend PageBackend) *BackendPageRepository {
	return &BackendPageRepository{
		backend: backend,
	}
}

// ValidateSlug checks that slug is a lowercase, dash separated identifier
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

// GetPage retrieves the page stored under slug
func (r *BackendPageRepository) GetPage(ctx context.Context, slug string) (*models.PageContent, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	page, err := r.backend.GetPage(ctx, slug)
	if err != nil {
		return nil, classify(err)
	}
	if page.Slug == "" {
		page.Slug = slug
	}
	return page, nil
}

// UpdatePage replaces the page stored under slug
func (r *BackendPageRepository) UpdatePage(ctx context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, apperrors.NewValidationError("Slug de pagina invalido", err)
	}
	if page == nil {
		return nil, apperrors.NewValidationError("El contenido de la pagina es obligatorio", nil)
	}
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("Se requiere iniciar sesion", nil)
	}

	return r.backend.UpdatePage(ctx, token, slug, page)
}

// classify wraps backend failures in the repository sentinels while keeping
// the original AppError reachable through errors.As.
func classify(err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) || apperrors.GetStatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrPageNotFound, err)
	}
	if apperrors.IsType(err, apperrors.ErrorTypeNetwork) || apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}
	return err
}
