package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/export"
	"github.com/use-agent/rtcapture/models"
	"github.com/ysmood/gson"
)

// payloadSelectors locate the embedded scorecard JSON, current markup first.
var payloadSelectors = []string{
	"script#media-scorecard-json",
	"#scoreDetails",
	"#score-details-json",
}

// Payload is the parsed structured-data document of one page.
type Payload struct {
	// Tree is the untyped document. Only the normalizer reads it.
	Tree gson.JSON
	// Source is the selector that matched.
	Source string
	// Meta is Open Graph metadata read from the same HTML.
	Meta models.PageMetadata
}

// ParsePayload finds and decodes the scorecard payload in html.
// A missing or empty payload is DATA_UNAVAILABLE; invalid JSON is
// DATA_PARSE_FAILED.
func ParsePayload(html string) (*Payload, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeDataUnavailable, "page HTML could not be parsed", err)
	}

	var raw, source string
	for _, sel := range payloadSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			raw, source = text, sel
			break
		}
	}
	if raw == "" {
		return nil, models.NewScrapeError(models.ErrCodeDataUnavailable,
			"no structured-data payload on page", nil)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeDataParse,
			fmt.Sprintf("payload %s is not valid JSON", source), err)
	}
	return &Payload{
		Tree:   gson.New(v),
		Source: source,
		Meta:   ExtractMetadata(doc),
	}, nil
}

// ExtractMetadata reads Open Graph type, description and image.
func ExtractMetadata(doc *goquery.Document) models.PageMetadata {
	var meta models.PageMetadata
	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch prop {
		case "og:type":
			meta.MediaType = content
		case "og:description":
			meta.Description = content
		case "og:image":
			meta.ImageURL = content
		}
	})
	return meta
}

// Extractor produces per-URL artifacts: the payload dump or an image.
type Extractor struct {
	Clip           engine.Rect
	ScrollStep     float64
	CaptureTimeout time.Duration
}

// Data reads the payload from the live page and dumps it as
// "{stamp}__{slug}.json".
func (x *Extractor) Data(ctx context.Context, page engine.Page, rc *models.RunContext, slug string) (*Payload, string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, "", categorize(err, models.ErrCodeDataUnavailable, "could not read page HTML")
	}
	p, err := ParsePayload(html)
	if err != nil {
		return nil, "", err
	}

	name := rc.ArtifactName(slug, ".json")
	dump := p.Tree.JSON("", "  ") + "\n"
	if err := export.WriteFileAtomic(rc.OutDir, name, []byte(dump)); err != nil {
		return nil, "", models.NewScrapeError(models.ErrCodeWriteFailed, "write "+name, err)
	}
	return p, filepath.Join(rc.OutDir, name), nil
}

// Visual captures an image, falling back through three tiers:
//
//  1. Region   – the resolved target, scrolled into view
//  2. Clip     – when no region was resolved, the configured clip offset
//     by the current scroll position
//  3. Viewport – the visible viewport at the top of the page, saved as __TOP
//
// Only a failure of the last tier is returned.
func (x *Extractor) Visual(ctx context.Context, page engine.Page, target ResolvedTarget, rc *models.RunContext, slug string) (string, error) {
	name := rc.ArtifactName(slug, ".png")

	// ── 1. Resolved region ────────────────────────────────────────────
	if target.Found() {
		shot, ok := Try(ctx, x.CaptureTimeout, "capture:region", func(ctx context.Context) ([]byte, error) {
			if err := target.Element.ScrollIntoView(ctx); err != nil {
				slog.Debug("scroll into view failed", "target", target.String(), "error", err)
			}
			return target.Element.Screenshot(ctx)
		})
		if ok && len(shot) > 0 {
			return x.write(rc, name, shot)
		}
	} else {
		// ── 2. Scroll-offset clip ─────────────────────────────────────
		// The clip only stands in for a missing region.
		shot, ok := Try(ctx, x.CaptureTimeout, "capture:clip", func(ctx context.Context) ([]byte, error) {
			if err := page.ScrollBy(ctx, x.ScrollStep); err != nil {
				return nil, err
			}
			off, err := page.ScrollOffset(ctx)
			if err != nil {
				return nil, err
			}
			return page.Screenshot(ctx, ClipAt(x.Clip, off))
		})
		if ok && len(shot) > 0 {
			return x.write(rc, name, shot)
		}
	}

	// ── 3. Viewport ───────────────────────────────────────────────────
	BestEffort(ctx, x.CaptureTimeout, "capture:scroll-top", func(ctx context.Context) error {
		off, err := page.ScrollOffset(ctx)
		if err != nil || off.Y == 0 {
			return err
		}
		return page.ScrollBy(ctx, -off.Y)
	})
	tctx := ctx
	if x.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, x.CaptureTimeout)
		defer cancel()
	}
	shot, err := page.Screenshot(tctx, nil)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupported) {
			return "", models.NewScrapeError(models.ErrCodeCaptureFailed, "engine cannot take screenshots", err)
		}
		return "", categorize(err, models.ErrCodeCaptureFailed, "viewport screenshot failed")
	}
	return x.write(rc, rc.ArtifactName(slug, "__TOP.png"), shot)
}

// ClipAt converts a viewport-relative clip into page coordinates.
func ClipAt(clip engine.Rect, scroll engine.Point) *engine.Rect {
	return &engine.Rect{
		X:      clip.X + scroll.X,
		Y:      clip.Y + scroll.Y,
		Width:  clip.Width,
		Height: clip.Height,
	}
}

func (x *Extractor) write(rc *models.RunContext, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.NewScrapeError(models.ErrCodeCaptureFailed, "empty screenshot for "+name, nil)
	}
	if err := export.WriteFileAtomic(rc.OutDir, name, data); err != nil {
		return "", models.NewScrapeError(models.ErrCodeWriteFailed, "write "+name, err)
	}
	return filepath.Join(rc.OutDir, name), nil
}
