// Package validate checks cache keys and remote locators before they reach
// the disk or the network.
package validate

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxKeyLength bounds the raw length of a local identifier. The file name
// derived from it is bounded separately by the disk store.
const MaxKeyLength = 200

// ValidateKey returns nil when key is usable as a local identifier. It
// rejects keys that are empty, too long, hidden, contain control characters
// or try to traverse out of the cache directory.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key exceeds %d bytes", MaxKeyLength)
	}

	if key == "." || key == ".." {
		return fmt.Errorf("path traversal detected: %s", key)
	}
	if hasEncodedTraversal(key) {
		return fmt.Errorf("encoded path traversal detected: %s", key)
	}

	for _, r := range key {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character detected in key: %q (U+%04X)", key, r)
		}
	}

	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("hidden keys not allowed: %s", key)
	}

	return nil
}

func hasEncodedTraversal(key string) bool {
	lower := strings.ToLower(key)
	for _, variant := range []string{
		"..%2f", "..%5c",
		"%2e%2e%2f", "%2e%2e%5c",
		"%2e%2e/", "%2e%2e\\",
		"..%c0%af", "..%c1%9c",
	} {
		if strings.Contains(lower, variant) {
			return true
		}
	}
	return false
}

// LocatorResolver turns caller supplied locators into absolute http(s) URLs.
type LocatorResolver struct {
	base *url.URL
}

// NewLocatorResolver creates a resolver. When baseURL is non-empty, relative
// locators are resolved against it.
func NewLocatorResolver(baseURL string) (*LocatorResolver, error) {
	r := &LocatorResolver{}
	if baseURL == "" {
		return r, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if err := checkAbsolute(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	r.base = base
	return r, nil
}

// Resolve returns the canonical absolute form of locator.
func (r *LocatorResolver) Resolve(locator string) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("empty locator")
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("malformed locator %q: %w", locator, err)
	}

	if !u.IsAbs() && u.Host == "" {
		if r.base == nil {
			return "", fmt.Errorf("relative locator %q without base URL", locator)
		}
		u = r.base.ResolveReference(u)
	}

	if err := checkAbsolute(u); err != nil {
		return "", fmt.Errorf("locator %q: %w", locator, err)
	}
	return u.String(), nil
}

func checkAbsolute(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
