package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/livewatch/internal/feed"
)

// HTTPConfig configures the HTTP extractor.
type HTTPConfig struct {
	Timeout   time.Duration // per-request timeout. Default: 20s.
	MaxBytes  int64         // max response body size. Default: 5MB.
	UserAgent string
	// RateEvery throttles requests across all sessions to one per interval.
	// Zero disables throttling.
	RateEvery time.Duration
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "livewatch/1.0"
	}
}

// HTTPExtractor fetches feed pages over plain HTTP. It serves endpoints
// whose markup arrives server-rendered; JS-rendered feeds need the browser
// extractor, which delegates ModeHTTP endpoints here.
type HTTPExtractor struct {
	config    HTTPConfig
	normalize feed.NormalizeFunc
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu     sync.Mutex
	client *http.Client
}

// NewHTTP creates an HTTPExtractor.
func NewHTTP(cfg HTTPConfig, normalize feed.NormalizeFunc, logger *slog.Logger) *HTTPExtractor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RateEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateEvery), 1)
	}
	return &HTTPExtractor{
		config:    cfg,
		normalize: normalize,
		limiter:   limiter,
		logger:    logger,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type httpHandle struct {
	ep Endpoint
}

func (h *httpHandle) Endpoint() Endpoint { return h.ep }
func (h *httpHandle) Close()             {}

// Open verifies the endpoint currently serves its category and returns a
// handle. HTTP handles hold no connection state; Open is the health gate.
func (x *HTTPExtractor) Open(ctx context.Context, ep Endpoint) (Handle, error) {
	h := &httpHandle{ep: ep}
	health := x.Check(ctx, h)
	if health.Err != nil {
		return nil, fmt.Errorf("extract: open %s: %w", ep.Category, health.Err)
	}
	if health.Redirected {
		return nil, fmt.Errorf("extract: open %s: endpoint redirected away from category", ep.Category)
	}
	return h, nil
}

// Extract fetches the endpoint and parses records out of the body.
func (x *HTTPExtractor) Extract(ctx context.Context, h Handle) ([]*feed.Record, Health) {
	ep := h.Endpoint()
	body, finalURL, err := x.fetch(ctx, ep.URL)
	if err != nil {
		return nil, Health{Err: err}
	}
	if redirected(ep, finalURL) {
		return nil, Health{Redirected: true}
	}
	records, err := ParseRecords(body, ep, x.normalize)
	if err != nil {
		return nil, Health{Err: err}
	}
	return records, Health{OK: true}
}

// Check fetches the endpoint headers-and-location only deep enough to judge
// health; body content is discarded.
func (x *HTTPExtractor) Check(ctx context.Context, h Handle) Health {
	ep := h.Endpoint()
	_, finalURL, err := x.fetch(ctx, ep.URL)
	if err != nil {
		return Health{Err: err}
	}
	if redirected(ep, finalURL) {
		return Health{Redirected: true}
	}
	return Health{OK: true}
}

// Reset replaces the HTTP client, dropping any pooled connections. The HTTP
// execution context is cheap; this exists to satisfy the systemic-failure
// recovery path uniformly with the browser extractor.
func (x *HTTPExtractor) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.client.CloseIdleConnections()
	x.client = &http.Client{Timeout: x.config.Timeout}
	return nil
}

// Close releases pooled connections.
func (x *HTTPExtractor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.client.CloseIdleConnections()
}

func (x *HTTPExtractor) fetch(ctx context.Context, url string) (body []byte, finalURL string, err error) {
	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("extract: new request: %w", err)
	}
	req.Header.Set("User-Agent", x.config.UserAgent)

	x.mu.Lock()
	client := x.client
	x.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("extract: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("extract: http %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, x.config.MaxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("extract: read body: %w", err)
	}
	return body, resp.Request.URL.String(), nil
}

// redirected reports whether the served URL no longer matches the
// endpoint's category marker. An empty marker disables the check.
func redirected(ep Endpoint, finalURL string) bool {
	if ep.Marker == "" {
		return false
	}
	return !strings.Contains(finalURL, ep.Marker)
}
