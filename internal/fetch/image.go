package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/resilience"
)

// maxImageBytes caps poster downloads; anything larger is not a poster.
const maxImageBytes = 8 << 20

// Image is a fetched poster image.
type Image struct {
	Data      []byte
	MediaType string
}

// ImageFetcher downloads poster images with bounded retries and rate limiting.
type ImageFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewImageFetcher creates an ImageFetcher from config.
func NewImageFetcher(cfg config.FetchConfig) *ImageFetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger("fetch", "image")

	return &ImageFetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		retry:   retry,
	}
}

// Fetch downloads an image. Transient failures are retried; on exhaustion the
// caller degrades to caption-only extraction.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*Image, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return f.fetchOnce(ctx, url)
	})
}

func (f *ImageFetcher) fetchOnce(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: get image")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.NewRateLimitError(eris.Errorf("fetch: image host returned 429"), 0)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("fetch: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}

	mediaType := resp.Header.Get("Content-Type")
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(mediaType)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, eris.Errorf("fetch: unexpected content type %q", mediaType)
	}

	return &Image{Data: data, MediaType: mediaType}, nil
}
