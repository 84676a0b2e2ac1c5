package processing

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

const (
	defaultUserAgent    = "docusense/1.0 (+document ingestion)"
	defaultMaxBody      = 10 << 20
	defaultFetchTimeout = 30 * time.Second
)

// FetchResult is the body of a retrieved URL.
type FetchResult struct {
	URL         string
	Body        []byte
	ContentType string // media type without parameters, lower-cased
}

// Fetcher retrieves the content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// HTTPFetcher fetches pages over HTTP(S).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// NewHTTPFetcher returns a fetcher whose requests time out after timeout.
// A zero timeout means 30 seconds.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		maxBody:   defaultMaxBody,
	}
}

// Fetch implements Fetcher. Non-2xx responses are errors; bodies larger
// than 10 MiB are truncated.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,text/plain,text/markdown;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetchFailed, err)
	}

	return &FetchResult{
		URL:         resp.Request.URL.String(),
		Body:        body,
		ContentType: mediaType(resp.Header.Get("Content-Type"), body),
	}, nil
}

// mediaType parses a Content-Type header, sniffing the body when absent.
func mediaType(header string, body []byte) string {
	if header == "" {
		header = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
