package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// PageTimeout bounds a single page fetch.
const PageTimeout = 30 * time.Second

const maxPageBytes = 10 * 1024 * 1024

// FetchError reports a page that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// fetcher performs GET requests with a fixed User-Agent and timeout.
type fetcher struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
}

func (f *fetcher) get(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

var topicParam = regexp.MustCompile(`[?&;]topic=(\d+)`)

// TopicID returns the numeric topic identifier carried by a forum URL, or ""
// when the URL does not point at a topic.
func TopicID(link string) string {
	m := topicParam.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// NormalizeURL resolves link against base and strips the fragment.
func NormalizeURL(base, link string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", link, err)
	}
	resolved := b.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}
