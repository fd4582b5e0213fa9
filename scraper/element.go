package scraper

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/rtcapture/engine"
)

// locatorJS applies engine.Query semantics in the page. Called on an
// element, `this` scopes the search to its descendants; on the page it is
// the window and the whole document is searched.
const locatorJS = `function (css, name, text, anc) {
	const root = (this && this.nodeType === 1) ? this : document;
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	for (const el of root.querySelectorAll(css || '*')) {
		if (name) {
			const label = el.getAttribute('aria-label');
			const acc = (label && label.trim()) ? label : el.textContent;
			if (norm(acc) !== norm(name)) continue;
		}
		if (text) {
			if (el.closest('head, script, style, noscript, template')) continue;
			let own = '';
			for (const n of el.childNodes) {
				if (n.nodeType === 3) own += n.textContent + ' ';
			}
			if (!norm(own).includes(text.toLowerCase())) continue;
		}
		if (anc) {
			const up = el.parentElement ? el.parentElement.closest(anc) : null;
			if (!up) continue;
			return up;
		}
		return el;
	}
	return null;
}`

const describeJS = `function () {
	const tag = this.tagName.toLowerCase();
	if (this.id) return tag + '#' + this.id;
	const qa = this.getAttribute('data-qa');
	if (qa) return tag + '[data-qa="' + qa + '"]';
	return tag;
}`

func locate(q engine.Query) *rod.EvalOptions {
	return rod.Eval(locatorJS, q.CSS, q.Name, q.Text, q.Ancestor).ByObject()
}

type element struct {
	page *Page
	el   *rod.Element
	desc string
}

func (e *element) Find(ctx context.Context, q engine.Query) (engine.Element, error) {
	res, err := e.el.Context(ctx).Evaluate(locate(q))
	if err != nil {
		return nil, categorizeError(err, "element lookup failed")
	}
	return e.page.wrap(ctx, res)
}

func (e *element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e *element) Screenshot(ctx context.Context) ([]byte, error) {
	return e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (e *element) Describe() string {
	if e.desc == "" {
		return "<element>"
	}
	return e.desc
}
