package client

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultScheme is used when no stores scheme is configured.
const DefaultScheme = "https"

// Locator identifies the account whose store should be addressed.
type Locator struct {
	// Username is the login used to compute <login>.<domain>.
	Username string
	// Index is reserved for accounts owning several stores. It does not
	// affect the computed URL.
	Index int
}

// ResolveBaseURL computes the base URL of the store owned by locator:
// scheme://<login>.<domain>/. The login is trimmed but keeps its case. The
// trailing slash is always present so relative references resolve against
// the host root. A blank domain yields ErrNotConfigured.
func ResolveBaseURL(locator Locator, domain, scheme string) (string, error) {
	username := strings.TrimSpace(locator.Username)
	if username == "" {
		return "", ErrInvalidLocator
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", ErrNotConfigured
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	return fmt.Sprintf("%s://%s.%s/", scheme, username, domain), nil
}

// SelectBaseURL picks the base URL for store operations. The first present
// value wins: override, then configured, then the URL computed from locator.
// It returns "" with a nil error when nothing is available, including a
// locator without a stores domain.
func SelectBaseURL(override, configured string, locator *Locator, domain, scheme string) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if locator != nil {
		u, err := ResolveBaseURL(*locator, domain, scheme)
		if errors.Is(err, ErrNotConfigured) {
			return "", nil
		}
		return u, err
	}
	return "", nil
}
