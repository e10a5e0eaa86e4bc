package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
)

const (
	defaultMaxBytes = 16 << 20
	userAgent       = "chatshell"
)

// Fetcher downloads resources with plain GET requests.
type Fetcher struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	MaxBytes       int64
}

var _ ports.ResourceFetcher = Fetcher{}

func (f Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	requestCtx, cancel := f.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create resource request: %w: %w", domain.ErrResourceFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request resource: %w: %w", domain.ErrResourceFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request resource: %w: status %d", domain.ErrResourceFetch, resp.StatusCode)
	}

	limit := f.maxBytes()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read resource body: %w: %w", domain.ErrResourceFetch, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("read resource body: %w: larger than %d bytes", domain.ErrResourceFetch, limit)
	}
	return data, nil
}

func (f Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f Fetcher) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return defaultMaxBytes
}

func (f Fetcher) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	timeout := f.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
