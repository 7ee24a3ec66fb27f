package repository

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

type fakeBackend struct {
	page  *models.PageContent
	err   error
	calls int
}

func (f *fakeBackend) GetPage(_ context.Context, slug string) (*models.PageContent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.page
	return &cp, nil
}

func (f *fakeBackend) UpdatePage(_ context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error) {
	f.calls++
	return page, f.err
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug    string
		wantErr bool
	}{
		{"proceso", false},
		{"sobre-nosotros", false},
		{"v2", false},
		{"", true},
		{"Proceso", true},
		{"../admin", true},
		{"-lead", true},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			err := ValidateSlug(tt.slug)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSlug(%q) error = %v, wantErr %v", tt.slug, err, tt.wantErr)
			}
		})
	}
}

func TestGetPage(t *testing.T) {
	backend := &fakeBackend{page: &models.PageContent{Title: "Proceso de Analisis"}}
	repo := NewBackendPageRepository(backend)

	page, err := repo.GetPage(context.Background(), "proceso")
	require.NoError(t, err)
	assert.Equal(t, "proceso", page.Slug)

	_, err = repo.GetPage(context.Background(), "../etc")
	assert.ErrorIs(t, err, ErrInvalidSlug)
	assert.Equal(t, 1, backend.calls)
}

func TestGetPageClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing", apperrors.NewServerError("Pagina no encontrada", http.StatusNotFound, nil), ErrPageNotFound},
		{"network", apperrors.NewNetworkError("down", errors.New("refused")), ErrRepositoryUnavailable},
		{"timeout", apperrors.NewTimeoutError("slow", context.DeadlineExceeded), ErrRepositoryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewBackendPageRepository(&fakeBackend{err: tt.err})
			_, err := repo.GetPage(context.Background(), "inicio")
			assert.ErrorIs(t, err, tt.want)
			_, ok := apperrors.AsAppError(err)
			assert.True(t, ok)
		})
	}
}

func TestUpdatePageRequiresToken(t *testing.T) {
	backend := &fakeBackend{}
	repo := NewBackendPageRepository(backend)

	_, err := repo.UpdatePage(context.Background(), "", "proceso", &models.PageContent{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))

	_, err = repo.UpdatePage(context.Background(), "jwt", "proceso", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, 0, backend.calls)

	page, err := repo.UpdatePage(context.Background(), "jwt", "proceso", &models.PageContent{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", page.Title)
}
