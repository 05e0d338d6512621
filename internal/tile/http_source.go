// internal/tile/http_source.go - Tile fetching over HTTP
package tile

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/config"
)

// HTTPSource implements Source using HTTP requests against a tile server
type HTTPSource struct {
	client  *http.Client
	config  *config.SourceConfig
	limiter *rate.Limiter
	backoff func(attempt int) time.Duration
}

// NewHTTPSource creates a new HTTP-based tile source
func NewHTTPSource(cfg *config.SourceConfig) *HTTPSource {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     cfg.Parallelism,
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &HTTPSource{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config:  cfg,
		limiter: rate.NewLimiter(limit, max(cfg.Parallelism, 1)),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// Key identifies this source in job keys
func (s *HTTPSource) Key() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return s.config.BaseURL
}

// Parallelism returns the number of concurrent fetches the server tolerates
func (s *HTTPSource) Parallelism() int {
	return max(s.config.Parallelism, 1)
}

// ZoomMin returns the lowest served zoom level
func (s *HTTPSource) ZoomMin() uint8 { return clampZoom(s.config.ZoomMin) }

// ZoomMax returns the highest served zoom level
func (s *HTTPSource) ZoomMax() uint8 { return clampZoom(s.config.ZoomMax) }

// URL expands the configured template for a tile
func (s *HTTPSource) URL(t Tile) string {
	template := s.config.URLTemplate
	if template == "" {
		template = "{base_url}/{z}/{x}/{y}.png"
	}
	replacer := strings.NewReplacer(
		"{base_url}", strings.TrimSuffix(s.config.BaseURL, "/"),
		"{z}", strconv.Itoa(int(t.ZoomLevel)),
		"{x}", strconv.FormatUint(t.X, 10),
		"{y}", strconv.FormatUint(t.Y, 10),
	)
	return replacer.Replace(template)
}

// Fetch retrieves a tile, retrying transient failures with quadratic backoff
func (s *HTTPSource) Fetch(ctx context.Context, t Tile) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}

		data, status, err := s.fetchOnce(ctx, t)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !s.shouldRetry(status, err) {
			break
		}
	}

	return nil, fmt.Errorf("tile %s failed after retries: %w", t, lastErr)
}

// fetchOnce performs a single rate-limited request
func (s *HTTPSource) fetchOnce(ctx context.Context, t Tile) ([]byte, int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := s.buildHTTPRequest(ctx, t)
	if err != nil {
		return nil, 0, internal.NewError(internal.ErrorCodeValidation, "failed to build HTTP request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, internal.NewError(internal.ErrorCodeNetwork, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile %s not found", t), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeNetwork, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status), nil)
	}

	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeProcessing, "failed to create gzip reader", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeNetwork, "failed to read response body", err)
	}
	return data, resp.StatusCode, nil
}

// buildHTTPRequest constructs an HTTP request for a tile
func (s *HTTPSource) buildHTTPRequest(ctx context.Context, t Tile) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(t), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept-Encoding", "gzip")
	userAgent := s.config.UserAgent
	if userAgent == "" {
		userAgent = "TileRender/1.0"
	}
	req.Header.Set("User-Agent", userAgent)

	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	for key, value := range s.config.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// shouldRetry determines whether a failed request should be retried
func (s *HTTPSource) shouldRetry(status int, err error) bool {
	if internal.HasCode(err, internal.ErrorCodeNotFound) || internal.HasCode(err, internal.ErrorCodeValidation) {
		return false
	}

	// Don't retry on client errors (4xx)
	if status >= 400 && status < 500 {
		return false
	}

	return status >= 500 || status == 0
}
