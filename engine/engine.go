package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Find when no element matches a Query.
	ErrNotFound = errors.New("element not found")

	// ErrUnsupported is returned by engines that cannot perform an
	// operation (e.g. screenshots on a static HTML page).
	ErrUnsupported = errors.New("operation not supported by engine")
)

// Query describes how to locate one element. All set fields must match.
//
//   - CSS restricts candidates to a selector (all elements when empty).
//   - Name matches the accessible name: aria-label, else the trimmed
//     text content, compared case-insensitively for equality.
//   - Text matches elements whose own text nodes contain Text,
//     case-insensitively.
//   - Ancestor, when set, replaces the match with its nearest strict
//     ancestor matching that selector; candidates without one are skipped.
//
// The first qualifying element in document order wins.
type Query struct {
	CSS      string
	Name     string
	Text     string
	Ancestor string
}

// Rect is a page-relative rectangle in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// Point is a page-relative offset in CSS pixels.
type Point struct {
	X, Y float64
}

// Page is the browser surface the capture pipeline drives. One Page is
// used by one goroutine at a time.
type Page interface {
	// Navigate loads url and returns once DOMContentLoaded has fired.
	Navigate(ctx context.Context, url string) error

	// StatusCode reports the HTTP status of the last navigation, or 0.
	StatusCode(ctx context.Context) int

	// WaitNetworkIdle blocks until network activity settles or timeout.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	// Find returns the first element matching q, or ErrNotFound.
	Find(ctx context.Context, q Query) (Element, error)

	// PressEscape sends an Escape key press to the page.
	PressEscape(ctx context.Context) error

	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)

	// VisibleText returns the rendered body text, without script or
	// style contents.
	VisibleText(ctx context.Context) (string, error)

	// ScrollBy scrolls the window vertically by dy pixels.
	ScrollBy(ctx context.Context, dy float64) error

	// ScrollOffset returns the current window scroll position.
	ScrollOffset(ctx context.Context) (Point, error)

	// Screenshot captures the visible viewport, or clip when non-nil.
	Screenshot(ctx context.Context, clip *Rect) ([]byte, error)
}

// Element is an opaque handle to a located DOM element.
type Element interface {
	// Find locates a descendant of the element, with Query semantics.
	Find(ctx context.Context, q Query) (Element, error)

	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)

	// Describe returns a short tag/id summary for logs.
	Describe() string
}
