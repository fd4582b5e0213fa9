package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/models"
)

// Stabilizer brings a page load to a state where the DOM is safe to inspect.
type Stabilizer struct {
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	SettleDelay        time.Duration
	RequireOK          bool
}

// Stabilize navigates to url and waits for the page to settle.
//
//  1. Navigate     – fatal on failure (and on HTTP >= 400 with RequireOK)
//  2. Network idle – bounded; a timeout is logged and ignored
//  3. Settle       – fixed delay for client-side components to mount
func (s *Stabilizer) Stabilize(ctx context.Context, page engine.Page, url string) error {
	// ── 1. Navigate ───────────────────────────────────────────────────
	navCtx := ctx
	if s.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.NavigationTimeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, url); err != nil {
		return categorize(err, models.ErrCodeNavigation, "navigation to target URL failed")
	}
	if status := page.StatusCode(ctx); s.RequireOK && status >= 400 {
		return models.NewScrapeError(models.ErrCodeNavigation,
			fmt.Sprintf("target returned HTTP %d", status), nil)
	}

	// ── 2. Network idle (best-effort) ────────────────────────────────
	if err := page.WaitNetworkIdle(ctx, s.NetworkIdleTimeout); err != nil {
		slog.Debug("network did not go idle, continuing",
			"url", url,
			"timeout", s.NetworkIdleTimeout,
			"error", err,
		)
	}

	// ── 3. Settle ─────────────────────────────────────────────────────
	if err := sleep(ctx, s.SettleDelay); err != nil {
		return categorize(err, models.ErrCodeNavigation, "interrupted while settling")
	}
	return nil
}
