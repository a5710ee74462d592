// Package dom describes the live document a recorded step is applied to.
//
// Implementations live elsewhere: pkg/browser drives a real page through the
// Chrome DevTools protocol and pkg/htmldoc serves parsed static markup.
package dom

import (
	"context"
	"math"
	"strings"
)

// Point is a position in document coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an element bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Element is a snapshot of one node taken at query time.
type Element struct {
	// Ref identifies the node to the Document that produced it.
	Ref       string            `json:"ref"`
	Tag       string            `json:"tag"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Text      string            `json:"text"`
	Bounds    Rect              `json:"bounds"`
	Disabled  bool              `json:"disabled"`
	Ancestors []Element         `json:"ancestors,omitempty"` // nearest first
}

// Attr returns the attribute value and whether it is present.
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// HasClass reports whether the class attribute contains name.
func (e Element) HasClass(name string) bool {
	for _, c := range strings.Fields(e.Attrs["class"]) {
		if c == name {
			return true
		}
	}
	return false
}

// Location is the current address of the document.
type Location struct {
	Href     string `json:"href"`
	Pathname string `json:"pathname"`
	Origin   string `json:"origin"`
}

// Property returns the named location field. Unknown names read pathname.
func (l Location) Property(name string) string {
	switch name {
	case "href":
		return l.Href
	case "origin":
		return l.Origin
	default:
		return l.Pathname
	}
}

// Document is the live document under test.
type Document interface {
	// Query returns the elements matching a CSS selector in document order.
	Query(ctx context.Context, selector string) ([]Element, error)
	// Click dispatches a bubbling click at the element.
	Click(ctx context.Context, el Element) error
	// SetValue assigns an input or select value and dispatches the
	// notification frameworks listen to: input for INPUT, change otherwise.
	SetValue(ctx context.Context, el Element, value string) error

	Location(ctx context.Context) (Location, error)
	// Navigate loads a URL or a path relative to the current origin.
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	Storage(ctx context.Context) (map[string]string, error)
	SetStorage(ctx context.Context, key, value string) error
	RemoveStorage(ctx context.Context, key string) error

	Cookies(ctx context.Context) (map[string]string, error)
	SetCookie(ctx context.Context, name, value string) error
	RemoveCookie(ctx context.Context, name string) error
}

// Evaluator is implemented by documents able to run script source in page
// context.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) error
}
