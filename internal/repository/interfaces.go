package repository

import (
	"context"

	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// PageRepository defines the data access operations for CMS pages
type PageRepository interface {
	// GetPage retrieves the page stored under slug
	GetPage(ctx context.Context, slug string) (*models.PageContent, error)

	// UpdatePage replaces the page stored under slug using an admin token
	UpdatePage(ctx context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error)
}

// PageBackend is the remote document store the repository reads through.
type PageBackend interface {
	GetPage(ctx context.Context, slug string) (*models.PageContent, error)
	UpdatePage(ctx context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error)
}
