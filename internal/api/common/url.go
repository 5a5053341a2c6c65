// Package common provides shared HTTP helpers for the API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

// PathParam returns the decoded value of a chi URL parameter.
// The value must be non-blank and free of whitespace and control characters.
func PathParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.IndexFunc(decoded, func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsControl(c)
	}) >= 0 {
		return "", fmt.Errorf("%s cannot contain whitespace or control characters", name)
	}

	return decoded, nil
}
