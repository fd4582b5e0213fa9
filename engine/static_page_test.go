package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const fixture = `<!doctype html>
<html><head><title> Sample Movie </title></head>
<body>
  <script>window.__labels = {"critics": "Tomatometer"};</script>
  <div id="consent"><button aria-label="Accept All">Yes please</button><a href="#">OK</a></div>
  <main>
    <section id="scores">
      <div class="label"><span>Tomatometer</span></div>
      <div id="inner"><button class="reveal"><span>87%</span></button></div>
    </section>
  </main>
</body></html>`

func loadFixture(t *testing.T) *StaticPage {
	t.Helper()
	p := NewStaticPage(StaticHTML(fixture))
	if err := p.Navigate(context.Background(), "https://example.test/m/sample"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	return p
}

func TestStaticPage_Find(t *testing.T) {
	p := loadFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"css", Query{CSS: "section"}, "section#scores"},
		{"name uses aria-label", Query{CSS: "button", Name: "accept all"}, "button"},
		{"name uses text", Query{CSS: "a", Name: "ok"}, "a"},
		{"own text", Query{Text: "tomatometer"}, "span"},
		{"text ancestor", Query{Text: "Tomatometer", Ancestor: "section, div"}, "div"},
		{"first in document order", Query{CSS: "div"}, "div#consent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, err := p.Find(ctx, tt.q)
			if err != nil {
				t.Fatalf("Find(%+v): %v", tt.q, err)
			}
			if got := el.Describe(); got != tt.want {
				t.Errorf("Find(%+v) = %s, want %s", tt.q, got, tt.want)
			}
		})
	}
}

func TestStaticPage_FindNotFound(t *testing.T) {
	p := loadFixture(t)
	_, err := p.Find(context.Background(), Query{CSS: "score-board"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	_, err = p.Find(context.Background(), Query{CSS: "button", Name: "Yes"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("aria-label should win over text: got %v, want ErrNotFound", err)
	}
}

func TestStaticPage_InvalidSelector(t *testing.T) {
	p := loadFixture(t)
	_, err := p.Find(context.Background(), Query{CSS: "[[["})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("invalid selector should be a distinct error, got %v", err)
	}
}

func TestStaticElement_FindAndClick(t *testing.T) {
	p := loadFixture(t)
	ctx := context.Background()

	inner, err := p.Find(ctx, Query{CSS: "#inner"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	btn, err := inner.Find(ctx, Query{CSS: "button"})
	if err != nil {
		t.Fatalf("nested Find: %v", err)
	}
	if err := btn.Click(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("click without hook: got %v, want ErrUnsupported", err)
	}

	var clicked string
	p.OnClick = func(s *goquery.Selection) error {
		clicked = DescribeSelection(s)
		return nil
	}
	if err := btn.Click(ctx); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if clicked != "button" {
		t.Errorf("clicked %q, want button", clicked)
	}
}

func TestStaticPage_TextSkipsNonRendered(t *testing.T) {
	p := loadFixture(t)
	ctx := context.Background()

	if _, err := p.Find(ctx, Query{Text: "sample movie"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("title text matched: got %v, want ErrNotFound", err)
	}
	text, err := p.VisibleText(ctx)
	if err != nil {
		t.Fatalf("VisibleText: %v", err)
	}
	if !strings.Contains(text, "Tomatometer 87%") {
		t.Errorf("visible text %q missing score label", text)
	}
	if strings.Contains(text, "__labels") || strings.Contains(text, "Sample Movie") {
		t.Errorf("visible text %q includes script or head content", text)
	}
}

func TestStaticPage_ScrollAndScreenshot(t *testing.T) {
	p := loadFixture(t)
	ctx := context.Background()

	if _, err := p.Screenshot(ctx, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("screenshot without renderer: got %v, want ErrUnsupported", err)
	}
	_ = p.ScrollBy(ctx, 400)
	_ = p.ScrollBy(ctx, -1000)
	off, _ := p.ScrollOffset(ctx)
	if off.Y != 0 {
		t.Errorf("scroll offset clamped: got %v, want 0", off.Y)
	}
	_ = p.ScrollBy(ctx, 250)
	off, _ = p.ScrollOffset(ctx)
	if off.Y != 250 {
		t.Errorf("scroll offset: got %v, want 250", off.Y)
	}
}

func TestExtractTitle(t *testing.T) {
	if got := extractTitle(fixture); got != "Sample Movie" {
		t.Errorf("extractTitle = %q, want %q", got, "Sample Movie")
	}
}
