package validation

import (
	"net/url"
	"strings"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
)

// URLValidator checks URLs the gateway is configured with or forwards:
// the backend base URL and image references inside page documents.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator creates a new URL validator with default settings
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateBaseURL validates the backend base URL. It must be absolute and
// carry no query or fragment, since endpoint paths are appended to it.
func (v *URLValidator) ValidateBaseURL(raw string) error {
	parsed, err := v.parseAbsolute(raw)
	if err != nil {
		return err
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return apperrors.NewValidationError("Base URL must not contain a query or fragment", nil)
	}
	return nil
}

// ValidateAssetURL validates an image reference from a page document.
// Root-relative paths ("/images/hero.jpg") are served by the frontend and
// inline image data URLs are embedded by the editor; both are accepted as-is.
func (v *URLValidator) ValidateAssetURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "/") && !strings.HasPrefix(trimmed, "//") {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "data:image/") {
		return nil
	}
	_, err := v.parseAbsolute(trimmed)
	return err
}

func (v *URLValidator) parseAbsolute(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid URL format", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return nil, apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return nil, apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return nil, apperrors.NewValidationError("URL host not allowed", nil)
	}

	return parsedURL, nil
}

func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isHostAllowed returns true if no host restrictions are set
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
