package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/rtcapture/engine"
)

// Strategy locates the score region one way. Find returns
// engine.ErrNotFound when the page does not expose it.
type Strategy interface {
	Name() string
	Find(ctx context.Context, page engine.Page) (engine.Element, error)
}

// QueryStrategy is a Strategy backed by a single engine.Query, so ties
// resolve to the first element in document order.
type QueryStrategy struct {
	Label string
	Query engine.Query
}

func (s QueryStrategy) Name() string { return s.Label }

func (s QueryStrategy) Find(ctx context.Context, page engine.Page) (engine.Element, error) {
	return page.Find(ctx, s.Query)
}

// DefaultStrategies is the resolution chain, most specific first.
func DefaultStrategies() []Strategy {
	return []Strategy{
		QueryStrategy{Label: "primary", Query: engine.Query{CSS: "score-board, media-scorecard"}},
		QueryStrategy{Label: "fallback-attr", Query: engine.Query{
			CSS: `[data-qa="score-panel"], [data-qa="tomatometer-container"], [data-qa="scoreboard"]`,
		}},
		QueryStrategy{Label: "text-anchor", Query: engine.Query{Text: "Tomatometer", Ancestor: "section, div"}},
	}
}

// ResolvedTarget is the located score region, or the zero value when no
// strategy matched.
type ResolvedTarget struct {
	Element  engine.Element
	Strategy string
}

// Found reports whether a region was located.
func (t ResolvedTarget) Found() bool { return t.Element != nil }

func (t ResolvedTarget) String() string {
	if !t.Found() {
		return "none"
	}
	return t.Strategy + ":" + t.Element.Describe()
}

// Resolver walks an ordered strategy chain and keeps the first hit.
type Resolver struct {
	strategies []Strategy
	timeout    time.Duration
}

// NewResolver creates a Resolver. Each strategy gets its own timeout.
// With no strategies, DefaultStrategies is used.
func NewResolver(timeout time.Duration, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{strategies: strategies, timeout: timeout}
}

// Resolve never fails: a page without the region yields ResolvedTarget{}.
func (r *Resolver) Resolve(ctx context.Context, page engine.Page) ResolvedTarget {
	for _, s := range r.strategies {
		el, ok := Try(ctx, r.timeout, "resolve:"+s.Name(), func(ctx context.Context) (engine.Element, error) {
			return s.Find(ctx, page)
		})
		if ok && el != nil {
			return ResolvedTarget{Element: el, Strategy: s.Name()}
		}
	}
	return ResolvedTarget{}
}

// clickableCSS matches elements that respond to a click.
const clickableCSS = `button, a, [role="button"], rt-button`

// revealLabels are accessible names of the control that opens the
// score breakdown.
var revealLabels = []string{"Tomatometer", "Popcornmeter", "See score details"}

// revealSelectors may match the control itself or a container around it.
var revealSelectors = []string{
	`[data-qa="tomatometer"]`,
	`[slot="criticsScore"]`,
	`rt-button[slot="criticsScore"]`,
	`score-icon-critics`,
}

// revealWords appear once the breakdown is open.
var revealWords = []string{"Fresh", "Rotten", "FRESH", "ROTTEN"}

// ActivationReport records what Activate clicked and what it saw after.
type ActivationReport struct {
	Clicked   bool
	Tier      string
	Control   string
	Confirmed []string
}

// finder is satisfied by both engine.Page and engine.Element.
type finder interface {
	Find(ctx context.Context, q engine.Query) (engine.Element, error)
}

// Activator clicks the control that reveals the score breakdown.
type Activator struct {
	ClickTimeout time.Duration
	RevealDelay  time.Duration
}

// Activate tries, in order: a control named like the score, a known
// attribute selector (descending one level into containers), and the
// nearest clickable ancestor of the label text. It searches inside the
// resolved region first, then the whole page. Nothing here fails the URL.
func (a *Activator) Activate(ctx context.Context, page engine.Page, target ResolvedTarget) ActivationReport {
	var rep ActivationReport

	scopes := []finder{page}
	if target.Found() {
		scopes = []finder{target.Element, page}
	}

	type tier struct {
		name string
		find func(ctx context.Context, f finder) (engine.Element, error)
	}
	tiers := []tier{
		{"name", func(ctx context.Context, f finder) (engine.Element, error) {
			for _, label := range revealLabels {
				el, err := f.Find(ctx, engine.Query{CSS: clickableCSS, Name: label})
				if err == nil {
					return el, nil
				}
				if !errors.Is(err, engine.ErrNotFound) {
					return nil, err
				}
			}
			return nil, engine.ErrNotFound
		}},
		{"selector", func(ctx context.Context, f finder) (engine.Element, error) {
			for _, css := range revealSelectors {
				el, err := f.Find(ctx, engine.Query{CSS: css})
				if err != nil {
					continue
				}
				if inner, err := el.Find(ctx, engine.Query{CSS: clickableCSS}); err == nil {
					return inner, nil
				}
				return el, nil
			}
			return nil, engine.ErrNotFound
		}},
		{"text", func(ctx context.Context, f finder) (engine.Element, error) {
			return f.Find(ctx, engine.Query{Text: "Tomatometer", Ancestor: clickableCSS})
		}},
	}

	for _, t := range tiers {
		for _, scope := range scopes {
			desc, ok := Try(ctx, a.ClickTimeout, "reveal:"+t.name, func(ctx context.Context) (string, error) {
				el, err := t.find(ctx, scope)
				if err != nil {
					return "", err
				}
				if err := el.Click(ctx); err != nil {
					return "", err
				}
				return el.Describe(), nil
			})
			if ok {
				rep.Clicked, rep.Tier, rep.Control = true, t.name, desc
				break
			}
		}
		if rep.Clicked {
			break
		}
	}
	if !rep.Clicked {
		slog.Debug("no reveal control clicked", "target", target.String())
		return rep
	}

	if err := sleep(ctx, a.RevealDelay); err != nil {
		return rep
	}
	if text, err := page.VisibleText(ctx); err == nil {
		for _, w := range revealWords {
			if strings.Contains(text, w) {
				rep.Confirmed = append(rep.Confirmed, w)
			}
		}
	}
	slog.Debug("reveal clicked",
		"tier", rep.Tier,
		"control", rep.Control,
		"confirmed", rep.Confirmed,
	)
	return rep
}
