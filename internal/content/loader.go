// Package content loads CMS page documents for the public pages and keeps
// the pages usable when the document store is unreachable.
package content

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/repository"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
	"github.com/anime-shed/retina-inspector-go/pkg/validation"
)

const (
	SlugInicio  = "inicio"
	SlugModelo  = "modelo"
	SlugProceso = "proceso"

	MsgLoadFailed = "Error al cargar el contenido de la pagina"
)

var fallbacks = map[string]models.PageContent{
	SlugProceso: {
		Title:    "Proceso de Analisis",
		Subtitle: "Sube una imagen de fondo de ojo para detectar signos de retinopatia diabetica",
	},
	SlugInicio: {
		Title:    "Deteccion de Retinopatia Diabetica",
		Subtitle: "Analisis de imagenes de fondo de ojo con un conjunto de modelos de aprendizaje profundo",
	},
	SlugModelo: {
		Title:    "Arquitectura del Modelo",
		Subtitle: "Cinco redes neuronales votan para clasificar la severidad de la retinopatia",
	},
}

var genericFallback = models.PageContent{
	Title:    "Contenido no disponible",
	Subtitle: MsgLoadFailed,
}

// Fallback returns the default document shown for slug when loading fails.
// It has no sections and no hero image.
func Fallback(slug string) models.PageContent {
	page, ok := fallbacks[slug]
	if !ok {
		page = genericFallback
	}
	page.Slug = slug
	page.Sections = []models.Section{}
	return page
}

// Loader fetches page documents through a PageRepository.
type Loader struct {
	repo      repository.PageRepository
	timeout   time.Duration
	validator *validation.URLValidator
	logger    *logrus.Logger
}

func NewLoader(repo repository.PageRepository, timeout time.Duration, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{
		repo:      repo,
		timeout:   timeout,
		validator: validation.NewURLValidator(),
		logger:    logger,
	}
}

// Load returns the page stored under slug, or its fallback. It never fails.
func (l *Loader) Load(ctx context.Context, slug string) models.PageContent {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	page, err := l.repo.GetPage(ctx, slug)
	if err != nil {
		loadErr := apperrors.NewContentLoadError(MsgLoadFailed, err)
		l.logger.WithFields(logrus.Fields{
			"slug":  slug,
			"error": loadErr.Error(),
		}).Warn("Serving fallback page content")
		return Fallback(slug)
	}

	l.dropInvalidImages(slug, page)
	return *page
}

// Update replaces the document under slug using the admin's bearer token.
func (l *Loader) Update(ctx context.Context, token, slug string, page *models.PageContent) (*models.PageContent, error) {
	updated, err := l.repo.UpdatePage(ctx, token, slug, page)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"slug":  slug,
			"error": err.Error(),
		}).Error("Page update failed")
		return nil, err
	}

	l.logger.WithField("slug", slug).Info("Page updated")
	return updated, nil
}

// dropInvalidImages clears image references that would not load, keeping
// the rest of the document.
func (l *Loader) dropInvalidImages(slug string, page *models.PageContent) {
	if page.HeroImage != "" {
		if err := l.validator.ValidateAssetURL(page.HeroImage); err != nil {
			l.logger.WithFields(logrus.Fields{"slug": slug, "image": page.HeroImage}).Debug("Dropping invalid hero image")
			page.HeroImage = ""
		}
	}
	for i := range page.Sections {
		if page.Sections[i].Image == "" {
			continue
		}
		if err := l.validator.ValidateAssetURL(page.Sections[i].Image); err != nil {
			l.logger.WithFields(logrus.Fields{"slug": slug, "image": page.Sections[i].Image}).Debug("Dropping invalid section image")
			page.Sections[i].Image = ""
		}
	}
	if page.Sections == nil {
		page.Sections = []models.Section{}
	}
}
