package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/livewatch/internal/extract"
	"github.com/hazyhaar/livewatch/internal/feed"
)

// Extractor drives feed extraction through stealth Chrome tabs. Endpoints
// with ModeHTTP are delegated to an HTTP extractor: feeds that serve plain
// markup never pay for a tab.
type Extractor struct {
	mgr       *Manager
	httpx     *extract.HTTPExtractor
	normalize feed.NormalizeFunc
	navigate  time.Duration
	logger    *slog.Logger
}

// NewExtractor creates a browser-backed Extractor. httpx handles ModeHTTP
// endpoints and must be non-nil.
func NewExtractor(mgr *Manager, httpx *extract.HTTPExtractor, normalize feed.NormalizeFunc, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		mgr:       mgr,
		httpx:     httpx,
		normalize: normalize,
		navigate:  30 * time.Second,
		logger:    logger,
	}
}

type tabHandle struct {
	ep   extract.Endpoint
	page *rod.Page
}

func (t *tabHandle) Endpoint() extract.Endpoint { return t.ep }

func (t *tabHandle) Close() {
	if t.page != nil {
		t.page.Close()
		t.page = nil
	}
}

// Open creates a stealth tab on the endpoint and verifies it serves its
// category.
func (x *Extractor) Open(ctx context.Context, ep extract.Endpoint) (extract.Handle, error) {
	if ep.Mode == extract.ModeHTTP {
		return x.httpx.Open(ctx, ep)
	}

	b := x.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, x.navigate)
	defer cancel()

	if err := page.Context(navCtx).Navigate(ep.URL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", ep.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		x.logger.Warn("browser: wait load timeout", "url", ep.URL, "error", err)
	}

	h := &tabHandle{ep: ep, page: page}
	if health := x.Check(ctx, h); health.Redirected || health.Err != nil {
		h.Close()
		if health.Err != nil {
			return nil, fmt.Errorf("browser: open %s: %w", ep.Category, health.Err)
		}
		return nil, fmt.Errorf("browser: open %s: endpoint redirected away from category", ep.Category)
	}
	return h, nil
}

// Extract serializes the tab's DOM and parses records out of it.
func (x *Extractor) Extract(ctx context.Context, h extract.Handle) ([]*feed.Record, extract.Health) {
	tab, ok := h.(*tabHandle)
	if !ok {
		return x.httpx.Extract(ctx, h)
	}
	if tab.page == nil {
		return nil, extract.Health{Err: fmt.Errorf("browser: handle closed")}
	}

	if health := x.Check(ctx, h); !health.OK {
		return nil, health
	}

	res, err := tab.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, extract.Health{Err: fmt.Errorf("browser: read DOM: %w", err)}
	}

	records, err := extract.ParseRecords([]byte(res.Value.Str()), tab.ep, x.normalize)
	if err != nil {
		return nil, extract.Health{Err: err}
	}
	return records, extract.Health{OK: true}
}

// Check compares the tab's current URL against the endpoint's category
// marker. Live feed pages navigate themselves when the backing category
// disappears; that is the redirect signal.
func (x *Extractor) Check(ctx context.Context, h extract.Handle) extract.Health {
	tab, ok := h.(*tabHandle)
	if !ok {
		return x.httpx.Check(ctx, h)
	}
	if tab.page == nil {
		return extract.Health{Err: fmt.Errorf("browser: handle closed")}
	}

	info, err := tab.page.Context(ctx).Info()
	if err != nil {
		return extract.Health{Err: fmt.Errorf("browser: page info: %w", err)}
	}
	if tab.ep.Marker != "" && !strings.Contains(info.URL, tab.ep.Marker) {
		return extract.Health{Redirected: true}
	}
	return extract.Health{OK: true}
}

// Reset recycles the whole Chrome process. All tab handles become invalid;
// the session pool reopens them on its next reopen pass.
func (x *Extractor) Reset(ctx context.Context) error {
	if err := x.httpx.Reset(ctx); err != nil {
		return err
	}
	return x.mgr.Recycle(ctx)
}

// Close shuts down Chrome and the HTTP side.
func (x *Extractor) Close() {
	x.httpx.Close()
	if err := x.mgr.Close(); err != nil {
		x.logger.Warn("browser: close", "error", err)
	}
}
