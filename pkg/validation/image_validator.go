package validation

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// DefaultMaxImageSize is the largest image accepted for analysis (10 MiB).
const DefaultMaxImageSize int64 = 10 * 1024 * 1024

const (
	MsgInvalidImageType = "Por favor selecciona un archivo de imagen valido"
	MsgEmptyImage       = "El archivo esta vacio"

	msgImageTooLargePrefix = "El archivo es demasiado grande. Tamano maximo: "
)

// MsgImageTooLarge is the size message for the default limit.
var MsgImageTooLarge = ImageTooLargeMessage(DefaultMaxImageSize)

// ImageTooLargeMessage returns the size message for a limit of maxSize bytes.
func ImageTooLargeMessage(maxSize int64) string {
	return msgImageTooLargePrefix + formatSize(maxSize)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// ImageLimits defines what the image validator accepts.
type ImageLimits struct {
	MaxSize         int64
	MediaTypePrefix string
}

// DefaultImageLimits returns the limits used by the analysis workflow.
func DefaultImageLimits() ImageLimits {
	return ImageLimits{
		MaxSize:         DefaultMaxImageSize,
		MediaTypePrefix: "image/",
	}
}

// ImageValidator checks a locally selected file before it is sent anywhere.
type ImageValidator struct {
	limits ImageLimits
}

func NewImageValidator() *ImageValidator {
	return &ImageValidator{limits: DefaultImageLimits()}
}

// NewImageValidatorWithLimits creates a validator with custom limits
func NewImageValidatorWithLimits(limits ImageLimits) *ImageValidator {
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxImageSize
	}
	if limits.MediaTypePrefix == "" {
		limits.MediaTypePrefix = "image/"
	}
	return &ImageValidator{limits: limits}
}

// Limits returns the configured limits.
func (v *ImageValidator) Limits() ImageLimits {
	return v.limits
}

// TooLargeMessage is the message reported for candidates over the size limit.
func (v *ImageValidator) TooLargeMessage() string {
	return ImageTooLargeMessage(v.limits.MaxSize)
}

// Validate rejects candidates that are not images or exceed the size limit.
// The size check applies regardless of the media type. When no media type was
// declared it is sniffed from the content and stored on the candidate. A
// declared image type is also rejected when the content sniffs as something
// recognizably different, such as text or a PDF.
func (v *ImageValidator) Validate(candidate *models.UploadCandidate) error {
	if candidate == nil {
		return apperrors.NewValidationError(MsgInvalidImageType, nil)
	}

	if candidate.Size == 0 && len(candidate.Content) > 0 {
		candidate.Size = int64(len(candidate.Content))
	}

	if candidate.Size > v.limits.MaxSize {
		return apperrors.NewValidationError(v.TooLargeMessage(), nil).
			WithDetails(fmt.Sprintf("size %d exceeds limit %d", candidate.Size, v.limits.MaxSize))
	}

	if candidate.Size == 0 {
		return apperrors.NewValidationError(MsgEmptyImage, nil)
	}

	mediaType := normalizeMediaType(candidate.MediaType)
	if mediaType == "" && len(candidate.Content) > 0 {
		mediaType = normalizeMediaType(mimetype.Detect(candidate.Content).String())
		candidate.MediaType = mediaType
	}

	if !strings.HasPrefix(mediaType, v.limits.MediaTypePrefix) {
		return apperrors.NewValidationError(MsgInvalidImageType, nil).
			WithDetails(fmt.Sprintf("media type %q", candidate.MediaType))
	}

	if len(candidate.Content) > 0 {
		sniffed := mimetype.Detect(candidate.Content)
		if !sniffed.Is("application/octet-stream") && !strings.HasPrefix(normalizeMediaType(sniffed.String()), v.limits.MediaTypePrefix) {
			return apperrors.NewValidationError(MsgInvalidImageType, nil).
				WithDetails(fmt.Sprintf("declared %q but content is %q", candidate.MediaType, sniffed.String()))
		}
	}

	return nil
}

// PreviewDataURL encodes the candidate as a base64 data URL for local display.
func PreviewDataURL(candidate *models.UploadCandidate) string {
	mediaType := normalizeMediaType(candidate.MediaType)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(candidate.Content)
}

// normalizeMediaType lowercases the type and drops parameters such as charset.
func normalizeMediaType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
