// Package resolve maps a click position on a document to a stable element
// selector and a proposed action.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

const (
	// DefaultTestAttr is the attribute treated as a stable test hook.
	DefaultTestAttr = "data-test"
	// DefaultCutoff is the largest click-to-center distance, in pixels, at
	// which an element can still be picked.
	DefaultCutoff = 200.0
)

// Descriptor is the outcome of resolving a click.
type Descriptor struct {
	SelectType schema.SelectType
	Selector   string
	Action     string
	Element    dom.Element
	// Matches is how many elements Selector currently matches. Values above
	// one mean the selector is ambiguous.
	Matches int
}

// Ambiguous reports whether the selector matches more than one element.
func (d *Descriptor) Ambiguous() bool {
	return d.Matches > 1
}

// Resolver resolves clicks against a document.
type Resolver struct {
	testAttr string
	cutoff   float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTestAttr changes the stable test attribute.
func WithTestAttr(attr string) Option {
	return func(r *Resolver) {
		if attr != "" {
			r.testAttr = attr
		}
	}
}

// WithCutoff changes the maximum pick distance.
func WithCutoff(px float64) Option {
	return func(r *Resolver) {
		if px > 0 {
			r.cutoff = px
		}
	}
}

// New returns a Resolver with the default test attribute and cutoff.
func New(opts ...Option) *Resolver {
	r := &Resolver{testAttr: DefaultTestAttr, cutoff: DefaultCutoff}
	for _, o := range opts {
		o(r)
	}
	return r
}

// TestAttr returns the configured stable test attribute.
func (r *Resolver) TestAttr() string { return r.testAttr }

// CandidateSelector is the selector group of elements a click can land on.
func (r *Resolver) CandidateSelector() string {
	return "[" + r.testAttr + "], input, select, button, .alert, a, p, h1, h2, h3, h4, h5, h6"
}

// ResolveClick returns the element nearest to p and a selector for it, or
// nil when no candidate's center lies within the cutoff.
func (r *Resolver) ResolveClick(ctx context.Context, p dom.Point, doc dom.Document) (*Descriptor, error) {
	candidates, err := doc.Query(ctx, r.CandidateSelector())
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	best, bestDist := -1, r.cutoff
	for i, el := range candidates {
		// Later candidates win ties, so nested elements beat their wrappers.
		if d := dom.Distance(p, el.Bounds.Center()); d <= bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil, nil
	}

	el := candidates[best]
	desc := &Descriptor{
		SelectType: schema.SelectBySelector,
		Action:     InferAction(el),
		Element:    el,
	}
	if err := r.describe(ctx, doc, el, desc); err != nil {
		return nil, err
	}

	matches, err := dom.Find(ctx, doc, desc.SelectType == schema.SelectByContent, desc.Selector)
	if err != nil {
		return nil, err
	}
	desc.Matches = len(matches)
	return desc, nil
}

func (r *Resolver) describe(ctx context.Context, doc dom.Document, el dom.Element, desc *Descriptor) error {
	if id, ok := el.Attr(r.testAttr); ok && id != "" {
		desc.Selector = AttrSelector(r.testAttr, id)
		same, err := doc.Query(ctx, desc.Selector)
		if err != nil {
			return fmt.Errorf("query %s: %w", desc.Selector, err)
		}
		if len(same) > 1 {
			for _, a := range el.Ancestors {
				if pid, ok := a.Attr(r.testAttr); ok && pid != "" {
					desc.Selector = AttrSelector(r.testAttr, pid) + " " + desc.Selector
					break
				}
			}
		}
		return nil
	}

	switch {
	case el.Tag == "a" && hasAttr(el, "href"):
		desc.Selector = AttrSelector("href", el.Attrs["href"])
	case isContentTag(el) && el.Text != "":
		desc.SelectType = schema.SelectByContent
		desc.Selector = strings.TrimSpace(el.Text)
	case hasAttr(el, "id") && el.Attrs["id"] != "":
		desc.Selector = "#" + el.Attrs["id"]
	case hasAttr(el, "name") && el.Attrs["name"] != "":
		desc.Selector = el.Tag + AttrSelector("name", el.Attrs["name"])
	case (el.Tag == "button" || el.Tag == "a") && el.Text != "":
		desc.SelectType = schema.SelectByContent
		desc.Selector = strings.TrimSpace(el.Text)
	default:
		desc.Selector = el.Tag
	}
	return nil
}

// InferAction proposes the action for a picked element.
func InferAction(el dom.Element) string {
	switch {
	case el.Tag == "input":
		return "type"
	case el.Tag == "select":
		return "select"
	case el.Tag == "button" || el.Tag == "a" || el.HasClass("btn"):
		return "click"
	default:
		return "exist"
	}
}

// AttrSelector builds an attribute-equality selector with a double-quoted,
// escaped value.
func AttrSelector(attr, value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return "[" + attr + `="` + r.Replace(value) + `"]`
}

func isContentTag(el dom.Element) bool {
	switch el.Tag {
	case "p", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return el.HasClass("alert")
}

func hasAttr(el dom.Element, name string) bool {
	_, ok := el.Attrs[name]
	return ok
}
