package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/rtcapture/config"
	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/models"
	"github.com/use-agent/rtcapture/normalize"
	"golang.org/x/time/rate"
)

// Pipeline runs the capture stages for each URL of a run, in order, on a
// single page.
type Pipeline struct {
	mode        string
	screenshots bool
	reveal      bool

	stabilizer *Stabilizer
	dismisser  *Dismisser
	resolver   *Resolver
	activator  *Activator
	extractor  *Extractor
	limiter    *rate.Limiter
}

// NewPipeline wires the stages from cfg.
func NewPipeline(cfg config.CaptureConfig) *Pipeline {
	p := &Pipeline{
		mode:        cfg.Mode,
		screenshots: cfg.TakeScreenshots,
		reveal:      cfg.Reveal,
		stabilizer: &Stabilizer{
			NavigationTimeout:  cfg.NavigationTimeout,
			NetworkIdleTimeout: cfg.NetworkIdleTimeout,
			SettleDelay:        cfg.SettleDelay,
			RequireOK:          cfg.RequireOK,
		},
		dismisser: &Dismisser{
			ClickTimeout: cfg.ClickTimeout,
			Passes:       cfg.DismissPasses,
			Delay:        cfg.DismissDelay,
		},
		resolver: NewResolver(cfg.ResolveTimeout),
		activator: &Activator{
			ClickTimeout: cfg.ClickTimeout,
			RevealDelay:  cfg.RevealDelay,
		},
		extractor: &Extractor{
			Clip: engine.Rect{
				X:      cfg.ClipX,
				Y:      cfg.ClipY,
				Width:  cfg.ClipWidth,
				Height: cfg.ClipHeight,
			},
			ScrollStep:     cfg.ScrollStep,
			CaptureTimeout: cfg.CaptureTimeout,
		},
	}
	if cfg.URLInterval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.URLInterval), 1)
	}
	return p
}

// Run processes targets in order. Per-URL failures are recorded in rc
// and never stop the loop; only cancellation of ctx does.
func (p *Pipeline) Run(ctx context.Context, page engine.Page, rc *models.RunContext, targets []models.CaptureTarget) {
	for i, t := range targets {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.abandon(rc, targets[i:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			p.abandon(rc, targets[i:], err)
			break
		}
		slog.Info("processing", "n", i+1, "of", len(targets), "url", t.URL)
		p.ProcessURL(ctx, page, rc, t)
	}

	succeeded, failed := rc.Counts()
	slog.Info("capture loop finished",
		"succeeded", succeeded,
		"failed", failed,
		"records", len(rc.Records()),
	)
}

// abandon records the URLs left unprocessed after cancellation.
func (p *Pipeline) abandon(rc *models.RunContext, rest []models.CaptureTarget, cause error) {
	slog.Warn("run interrupted", "remaining", len(rest), "error", cause)
	for _, t := range rest {
		rc.Record(models.URLOutcome{
			URL:       t.URL,
			Slug:      t.Slug,
			Status:    models.StatusFailed,
			ErrorCode: models.ErrCodeTimeout,
			Error:     "not processed: " + cause.Error(),
		})
	}
}

// ProcessURL is the per-URL error boundary: every error and panic from
// the stages ends here, is logged, and becomes the URL's outcome.
func (p *Pipeline) ProcessURL(ctx context.Context, page engine.Page, rc *models.RunContext, target models.CaptureTarget) models.URLOutcome {
	start := time.Now()
	artifacts, err := p.guarded(ctx, page, rc, target)

	out := models.URLOutcome{
		URL:       target.URL,
		Slug:      target.Slug,
		Status:    models.StatusOK,
		Artifacts: artifacts,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		out.Status = models.StatusFailed
		out.ErrorCode = models.CodeOf(err)
		out.Error = err.Error()
		slog.Error("error",
			"url", target.URL,
			"slug", target.Slug,
			"code", out.ErrorCode,
			"error", err,
		)
	}
	rc.Record(out)
	return out
}

func (p *Pipeline) guarded(ctx context.Context, page engine.Page, rc *models.RunContext, target models.CaptureTarget) (artifacts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return p.process(ctx, page, rc, target)
}

// process runs the stages for one URL:
//
//  1. Stabilize  – navigate and settle (fatal)
//  2. Dismiss    – interstitials, several passes (best-effort)
//  3. Resolve    – score region, only when an image or reveal is wanted
//  4. Reveal     – open the breakdown (best-effort, optional)
//  5. Extract    – payload + normalize, or image (fatal)
func (p *Pipeline) process(ctx context.Context, page engine.Page, rc *models.RunContext, target models.CaptureTarget) ([]string, error) {
	var artifacts []string

	// ── 1. Stabilize ──────────────────────────────────────────────────
	if err := p.stabilizer.Stabilize(ctx, page, target.URL); err != nil {
		return nil, err
	}
	slog.Info("loaded", "url", target.URL, "status", page.StatusCode(ctx))

	// ── 2. Dismiss interstitials ─────────────────────────────────────
	p.dismisser.DismissAll(ctx, page)

	// ── 3. Resolve target region ─────────────────────────────────────
	wantImage := p.mode == config.ModeVisual || p.screenshots
	var resolved ResolvedTarget
	if wantImage || p.reveal {
		resolved = p.resolver.Resolve(ctx, page)
		slog.Debug("target resolved", "url", target.URL, "target", resolved.String())
	}

	// ── 4. Reveal breakdown ───────────────────────────────────────────
	if p.reveal {
		p.activator.Activate(ctx, page, resolved)
	}

	// ── 5. Extract ────────────────────────────────────────────────────
	if p.mode == config.ModeVisual {
		path, err := p.extractor.Visual(ctx, page, resolved, rc, target.Slug)
		if err != nil {
			return nil, err
		}
		slog.Info("saved", "url", target.URL, "path", path)
		return append(artifacts, path), nil
	}

	payload, path, err := p.extractor.Data(ctx, page, rc, target.Slug)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, path)
	slog.Info("saved", "url", target.URL, "path", path, "source", payload.Source)

	rec := normalize.Record(target, rc.Timestamp, payload.Tree, payload.Meta)

	if p.screenshots {
		if shot, err := p.extractor.Visual(ctx, page, resolved, rc, target.Slug); err != nil {
			slog.Warn("supplementary screenshot failed", "url", target.URL, "error", err)
		} else {
			artifacts = append(artifacts, shot)
			slog.Info("saved", "url", target.URL, "path", shot)
		}
	}

	rc.Append(rec)
	return artifacts, nil
}
