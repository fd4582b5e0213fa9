package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// StaticPage serves the Page interface from a fetched HTML document
// without executing JavaScript. Interactions have no effect on the DOM.
//
// OnClick and Render let callers script interactions and screenshots;
// when nil, clicks and screenshots return ErrUnsupported.
type StaticPage struct {
	fetcher Fetcher

	OnClick func(el *goquery.Selection) error
	Render  func(clip *Rect) ([]byte, error)

	doc    *goquery.Document
	raw    string
	status int
	scroll Point
}

// NewStaticPage creates a StaticPage backed by fetcher.
func NewStaticPage(fetcher Fetcher) *StaticPage {
	return &StaticPage{fetcher: fetcher}
}

// StaticHTML returns a Fetcher that serves the same document for every URL.
func StaticHTML(doc string) Fetcher {
	return FetcherFunc(func(_ context.Context, url string) (*FetchResult, error) {
		return &FetchResult{HTML: doc, StatusCode: 200, FinalURL: url, Title: extractTitle(doc)}, nil
	})
}

func (p *StaticPage) Navigate(ctx context.Context, url string) error {
	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return fmt.Errorf("static page: parse html: %w", err)
	}
	p.doc = doc
	p.raw = res.HTML
	p.status = res.StatusCode
	p.scroll = Point{}
	return nil
}

func (p *StaticPage) StatusCode(context.Context) int { return p.status }

// WaitNetworkIdle returns immediately: a fetched document has no
// background connections.
func (p *StaticPage) WaitNetworkIdle(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func (p *StaticPage) Find(ctx context.Context, q Query) (Element, error) {
	if p.doc == nil {
		return nil, ErrNotFound
	}
	return p.find(ctx, p.doc.Selection, q)
}

func (p *StaticPage) find(ctx context.Context, root *goquery.Selection, q Query) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := matchQuery(root, q)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		return nil, ErrNotFound
	}
	return &staticElement{page: p, sel: sel}, nil
}

func (p *StaticPage) PressEscape(context.Context) error { return ErrUnsupported }

func (p *StaticPage) HTML(context.Context) (string, error) {
	if p.doc == nil {
		return "", fmt.Errorf("static page: no document loaded")
	}
	return p.raw, nil
}

func (p *StaticPage) VisibleText(context.Context) (string, error) {
	if p.doc == nil {
		return "", fmt.Errorf("static page: no document loaded")
	}
	body := p.doc.Find("body").Clone()
	body.FindMatcher(nonRendered).Remove()
	return collapseSpace(body.Text()), nil
}

func (p *StaticPage) ScrollBy(_ context.Context, dy float64) error {
	p.scroll.Y += dy
	if p.scroll.Y < 0 {
		p.scroll.Y = 0
	}
	return nil
}

func (p *StaticPage) ScrollOffset(context.Context) (Point, error) { return p.scroll, nil }

func (p *StaticPage) Screenshot(_ context.Context, clip *Rect) ([]byte, error) {
	if p.Render == nil {
		return nil, ErrUnsupported
	}
	return p.Render(clip)
}

type staticElement struct {
	page *StaticPage
	sel  *goquery.Selection
}

func (e *staticElement) Find(ctx context.Context, q Query) (Element, error) {
	return e.page.find(ctx, e.sel, q)
}

func (e *staticElement) Click(context.Context) error {
	if e.page.OnClick == nil {
		return ErrUnsupported
	}
	return e.page.OnClick(e.sel)
}

func (e *staticElement) ScrollIntoView(context.Context) error { return nil }

func (e *staticElement) Screenshot(context.Context) ([]byte, error) {
	if e.page.Render == nil {
		return nil, ErrUnsupported
	}
	return e.page.Render(nil)
}

func (e *staticElement) Describe() string {
	return DescribeSelection(e.sel)
}

// DescribeSelection renders "tag#id" (or "tag[data-qa=...]") for logs.
func DescribeSelection(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return "<none>"
	}
	desc := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return desc + "#" + id
	}
	if qa, ok := s.Attr("data-qa"); ok && qa != "" {
		return desc + `[data-qa="` + qa + `"]`
	}
	return desc
}

// matchQuery applies Query semantics to the descendants of root.
func matchQuery(root *goquery.Selection, q Query) (*goquery.Selection, error) {
	css := q.CSS
	if css == "" {
		css = "*"
	}
	matcher, err := cascadia.Compile(css)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", css, err)
	}
	var ancestor cascadia.Selector
	if q.Ancestor != "" {
		if ancestor, err = cascadia.Compile(q.Ancestor); err != nil {
			return nil, fmt.Errorf("invalid ancestor selector %q: %w", q.Ancestor, err)
		}
	}

	var found *goquery.Selection
	root.FindMatcher(matcher).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if q.Name != "" && !strings.EqualFold(AccessibleName(s), strings.TrimSpace(q.Name)) {
			return true
		}
		if q.Text != "" {
			if s.ClosestMatcher(nonRendered).Length() > 0 {
				return true
			}
			if !strings.Contains(strings.ToLower(OwnText(s)), strings.ToLower(q.Text)) {
				return true
			}
		}
		if ancestor != nil {
			up := s.Parent().ClosestMatcher(ancestor)
			if up.Length() == 0 {
				return true
			}
			s = up
		}
		found = s.First()
		return false
	})
	return found, nil
}

// nonRendered holds text that is never painted, such as the scorecard
// JSON inside its script tag.
var nonRendered = cascadia.MustCompile("head, script, style, noscript, template")

// AccessibleName approximates an element's accessible name: its
// aria-label, else its whitespace-collapsed text content.
func AccessibleName(s *goquery.Selection) string {
	if label, ok := s.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
		return collapseSpace(label)
	}
	return collapseSpace(s.Text())
}

// OwnText concatenates the direct text-node children of the first node.
func OwnText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	return collapseSpace(b.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
