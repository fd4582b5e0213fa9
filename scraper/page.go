package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/models"
)

// Page drives one rod tab through the engine.Page interface.
type Page struct {
	page    *rod.Page
	router  *rod.HijackRouter
	filter  *requestFilter
	status  int
	onClose func()
}

var _ engine.Page = (*Page)(nil)

// Navigate loads url and returns once DOMContentLoaded has fired.
//
// Lifecycle:
//
//  1. Context binding   – ctx deadline applies to every CDP call below
//  2. Lifecycle waiter  – registered before Navigate so the event is not missed
//  3. Navigate          – triggers page load
//  4. Wait              – DOMContentLoaded
//  5. Status code       – read back from the navigation timing entry
func (p *Page) Navigate(ctx context.Context, url string) error {
	// ── 1. Bind context ───────────────────────────────────────────────
	pg := p.page.Context(ctx)
	p.status = 0

	// ── 2. DOMContentLoaded waiter BEFORE navigation ─────────────────
	wait := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)

	// ── 3. Navigate ───────────────────────────────────────────────────
	if err := pg.Navigate(url); err != nil {
		return categorizeError(err, "navigation to target URL failed")
	}

	// ── 4. Wait ───────────────────────────────────────────────────────
	wait()
	if err := ctx.Err(); err != nil {
		return categorizeError(err, "navigation timed out before DOMContentLoaded")
	}

	// ── 5. Status code (best-effort) ─────────────────────────────────
	// NOTE: listening for NetworkResponseReceived conflicts with the
	// Fetch domain used by HijackRequests, so read it from the page.
	if res, err := pg.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		p.status = res.Value.Int()
	}
	return nil
}

func (p *Page) StatusCode(context.Context) int { return p.status }

// WaitNetworkIdle waits for in-flight requests to drain, bounded by timeout.
// WaitRequestIdle uses the Fetch domain which conflicts with HijackRequests,
// so WaitDOMStable stands in when the hijack router is mounted.
func (p *Page) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pg := p.page.Context(tctx)

	if p.router != nil {
		if err := pg.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			return err
		}
		return nil
	}
	pg.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return tctx.Err()
}

func (p *Page) Find(ctx context.Context, q engine.Query) (engine.Element, error) {
	pg := p.page.Context(ctx)
	res, err := pg.Evaluate(locate(q))
	if err != nil {
		return nil, categorizeError(err, "element lookup failed")
	}
	return p.wrap(ctx, res)
}

func (p *Page) PressEscape(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Type(input.Escape)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

func (p *Page) VisibleText(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", categorizeError(err, "failed to read page text")
	}
	return res.Value.Str(), nil
}

func (p *Page) ScrollBy(ctx context.Context, dy float64) error {
	_, err := p.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

func (p *Page) ScrollOffset(ctx context.Context) (engine.Point, error) {
	res, err := p.page.Context(ctx).Eval(`() => ({x: window.scrollX, y: window.scrollY})`)
	if err != nil {
		return engine.Point{}, err
	}
	return engine.Point{X: res.Value.Get("x").Num(), Y: res.Value.Get("y").Num()}, nil
}

func (p *Page) Screenshot(ctx context.Context, clip *engine.Rect) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if clip != nil {
		req.Clip = &proto.PageViewport{
			X:      clip.X,
			Y:      clip.Y,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		}
	}
	return p.page.Context(ctx).Screenshot(false, req)
}

// Close stops request interception and closes the tab.
func (p *Page) Close() {
	if p.router != nil {
		_ = p.router.Stop()
		slog.Debug("request filter stopped", "blocked", p.filter.Blocked())
	}
	if err := p.page.Close(); err != nil {
		slog.Warn("cleanup: failed to close tab", "error", err)
	}
	if p.onClose != nil {
		p.onClose()
	}
}

// wrap turns a locator result into an Element, or ErrNotFound for null.
func (p *Page) wrap(ctx context.Context, res *proto.RuntimeRemoteObject) (engine.Element, error) {
	if res == nil || res.ObjectID == "" {
		return nil, engine.ErrNotFound
	}
	el, err := p.page.Context(ctx).ElementFromObject(res)
	if err != nil {
		return nil, categorizeError(err, "element handle failed")
	}
	e := &element{page: p, el: el}
	if d, err := el.Eval(describeJS); err == nil {
		e.desc = d.Value.Str()
	}
	return e, nil
}

// categorizeError wraps raw errors into typed ScrapeErrors so callers can
// tell a timeout apart from a navigation failure.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
