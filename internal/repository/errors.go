package repository

import "errors"

var (
	// ErrInvalidSlug indicates a page slug that cannot be addressed
	ErrInvalidSlug = errors.New("invalid page slug")

	// ErrPageNotFound indicates the backend has no document for the slug
	ErrPageNotFound = errors.New("page not found")

	// ErrRepositoryUnavailable indicates the page store could not be reached
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
