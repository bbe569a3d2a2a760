// Package availability decides whether a domain name is currently unregistered.
package availability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public RDAP bootstrap service.
const DefaultBaseURL = "https://rdap.org"

// Timeout bounds a single lookup.
const Timeout = 20 * time.Second

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Checker queries a registration lookup service. Only an explicit "not
// found" answer counts as available; everything else is treated as taken.
type Checker struct {
	client    HTTPClient
	baseURL   string
	userAgent string
}

// New creates a Checker. A nil client uses a default one with Timeout.
func New(baseURL, userAgent string, client HTTPClient) *Checker {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: Timeout}
	}
	return &Checker{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
	}
}

// Available reports whether domain is unregistered. HTTP 404 means
// available, HTTP 200 means registered. Any other status or a transport
// failure returns false together with an error describing why.
func (c *Checker) Available(ctx context.Context, domain string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	lookupURL := c.baseURL + "/domain/" + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return false, fmt.Errorf("create lookup request %s: %w", domain, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", domain, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return true, nil
	case http.StatusOK:
		return false, nil
	default:
		return false, fmt.Errorf("lookup %s: unexpected status %d", domain, resp.StatusCode)
	}
}
