// Package urlutil provides URL checks shared by configuration, feed
// loading and the prefetch proxy.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// ErrRequired is returned by ValidateRemote for an empty URL.
var ErrRequired = errors.New("URL is required")

// NormalizeBaseURL prepares a base URL for joining:
//   - adds http:// when no scheme is given
//   - removes trailing slashes
//
// Examples:
//
//	"localhost:8091"        -> "http://localhost:8091"
//	"https://cache.local/"  -> "https://cache.local"
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = SchemeHTTP + "://" + baseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// IsRemote reports whether u is an absolute http or https URL with a host.
func IsRemote(u string) bool {
	return ValidateRemote(u) == nil
}

// ValidateRemote checks that u is an absolute http or https URL with a host.
func ValidateRemote(u string) error {
	if u == "" {
		return ErrRequired
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeHTTP, SchemeHTTPS:
	default:
		return fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", u)
	}
	return nil
}
