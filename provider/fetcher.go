package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	freshtab "github.com/freshtab/freshtab"
)

const (
	// DefaultTimeout bounds a single image download.
	DefaultTimeout = 20 * time.Second

	// maxImageBytes caps the accepted response body (32 MiB). Anything
	// larger is not a wallpaper.
	maxImageBytes = 32 << 20
)

// Fetcher downloads image payloads with a bounded timeout. Failures are
// reported as NetworkError; the caller decides whether to retry against an
// alternate provider.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.client.Timeout = d
	}
}

// WithFetcherLogger sets the logger for the fetcher.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates an image fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchImage downloads the image at rawURL. Returns the payload bytes and
// the response content type. Timeouts, transport failures, and non-2xx
// statuses yield a NetworkError; no partial result is ever returned.
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &freshtab.NetworkError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &freshtab.NetworkError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &freshtab.NetworkError{URL: rawURL, Err: fmt.Errorf("upstream returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", &freshtab.NetworkError{URL: rawURL, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(body) > maxImageBytes {
		return nil, "", &freshtab.NetworkError{URL: rawURL, Err: fmt.Errorf("image exceeds %d bytes", maxImageBytes)}
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(body)
	}

	f.logger.Debug("fetched image",
		"url", rawURL,
		"bytes", len(body),
		"content_type", mime,
		"duration", time.Since(start))

	return body, mime, nil
}
