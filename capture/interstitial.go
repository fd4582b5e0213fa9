package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/rtcapture/config"
	"github.com/use-agent/rtcapture/engine"
)

// consentLabels are accessible names of controls that accept or close a
// consent banner, tried in order.
var consentLabels = []string{"Accept", "Accept All", "I Agree", "Agree", "OK", "Got it", "Close"}

// controlRoles are the clickable roles a consent control may take.
var controlRoles = []string{
	`button, [role="button"], input[type="button"], input[type="submit"]`,
	`a, [role="link"]`,
}

// closePatterns are generic close affordances, tried after Escape.
var closePatterns = []engine.Query{
	{CSS: `[aria-label="Close"]`},
	{CSS: `[title="Close"]`},
	{CSS: `[data-qa="close-button"]`},
	{CSS: `[data-testid="close-button"]`},
	{CSS: `button.close`},
	{CSS: `button, [role="button"]`, Name: "×"},
	{CSS: `button, [role="button"]`, Name: "✕"},
	{CSS: `button, [role="button"]`, Name: "X"},
}

// Dismisser removes consent banners and modals without knowing their markup.
type Dismisser struct {
	ClickTimeout time.Duration
	Passes       int
	Delay        time.Duration
}

// DismissReport records what a dismissal pass actually did.
type DismissReport struct {
	Passes  int
	Clicked []string
	Escaped int
}

// Dismiss runs one pass of the three strategies. Each one is independent:
// nothing found is the normal outcome, and no error ever escapes.
func (d *Dismisser) Dismiss(ctx context.Context, page engine.Page) DismissReport {
	var rep DismissReport
	rep.Passes = 1

	// ── 1. Labeled consent controls ──────────────────────────────────
labels:
	for _, label := range consentLabels {
		for _, role := range controlRoles {
			q := engine.Query{CSS: role, Name: label}
			if desc, ok := d.click(ctx, page, q, "dismiss:label"); ok {
				rep.Clicked = append(rep.Clicked, label+" "+desc)
				break labels
			}
		}
	}

	// ── 2. Escape ─────────────────────────────────────────────────────
	if BestEffort(ctx, d.ClickTimeout, "dismiss:escape", page.PressEscape) {
		rep.Escaped++
	}

	// ── 3. Generic close controls ────────────────────────────────────
	for _, q := range closePatterns {
		if desc, ok := d.click(ctx, page, q, "dismiss:close"); ok {
			rep.Clicked = append(rep.Clicked, desc)
			break
		}
	}
	return rep
}

// DismissAll repeats Dismiss at least config.MinDismissPasses times,
// since a second layer often appears only after the first is gone or
// after late rendering.
func (d *Dismisser) DismissAll(ctx context.Context, page engine.Page) DismissReport {
	passes := max(d.Passes, config.MinDismissPasses)
	var total DismissReport
	for i := 0; i < passes; i++ {
		if i > 0 {
			if err := sleep(ctx, d.Delay); err != nil {
				break
			}
		}
		rep := d.Dismiss(ctx, page)
		total.Passes++
		total.Clicked = append(total.Clicked, rep.Clicked...)
		total.Escaped += rep.Escaped
	}
	if len(total.Clicked) > 0 {
		slog.Debug("interstitials dismissed", "clicked", total.Clicked, "passes", total.Passes)
	}
	return total
}

func (d *Dismisser) click(ctx context.Context, page engine.Page, q engine.Query, op string) (string, bool) {
	return Try(ctx, d.ClickTimeout, op, func(ctx context.Context) (string, error) {
		el, err := page.Find(ctx, q)
		if err != nil {
			return "", err
		}
		if err := el.Click(ctx); err != nil {
			return "", err
		}
		return el.Describe(), nil
	})
}
