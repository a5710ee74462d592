// Package htmldoc implements dom.Document over parsed static markup.
//
// Geometry comes from a data-bounds="x,y,w,h" attribute since nothing is laid
// out. Scripted behavior is attached with On, which registers handlers that
// run when an event reaches a matching element or one of its ancestors.
package htmldoc

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
)

// BoundsAttr carries element geometry as "x,y,width,height".
const BoundsAttr = "data-bounds"

// Event is delivered to handlers registered with On.
type Event struct {
	Type   string
	Target *goquery.Selection
	Root   *goquery.Document
	Value  string
}

// Handler reacts to an event. Handlers run with the document locked and must
// mutate markup through the Event's selections only.
type Handler func(ev Event) error

// Loader returns the markup served at a URL.
type Loader func(ctx context.Context, url string) (string, error)

// Dispatched records one event fired by the document.
type Dispatched struct {
	Type string
	Ref  string
}

type binding struct {
	event    string
	selector string
	handler  Handler
}

// Document is a goquery-backed dom.Document.
type Document struct {
	mu       sync.Mutex
	doc      *goquery.Document
	loc      *url.URL
	loader   Loader
	bindings []binding
	storage  map[string]string
	cookies  map[string]string
	events   []Dispatched
	loads    []string
}

// Option configures a Document.
type Option func(*Document)

// WithLoader sets the loader used by Navigate and Reload.
func WithLoader(l Loader) Option {
	return func(d *Document) { d.loader = l }
}

// Pages returns a Loader serving fixed markup keyed by pathname.
func Pages(pages map[string]string) Loader {
	return func(_ context.Context, raw string) (string, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return "", err
		}
		body, ok := pages[u.Path]
		if !ok {
			return "", fmt.Errorf("no page at %s", u.Path)
		}
		return body, nil
	}
}

// New parses markup served at address.
func New(markup, address string, opts ...Option) (*Document, error) {
	loc, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	d := &Document{
		loc:     loc,
		storage: map[string]string{},
		cookies: map[string]string{},
	}
	for _, o := range opts {
		o(d)
	}
	if err := d.parse(markup); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) parse(markup string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}
	d.doc = doc
	return nil
}

// On registers a handler for an event type ("click", "input", "change")
// on elements matching selector.
func (d *Document) On(event, selector string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, binding{event: event, selector: selector, handler: h})
}

// Events returns the events dispatched so far.
func (d *Document) Events() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatched(nil), d.events...)
}

// Loads returns every URL navigated to, in order.
func (d *Document) Loads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.loads...)
}

// Text returns the trimmed text of the first element matching selector.
func (d *Document) Text(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return normalizeSpace(d.doc.Find(selector).First().Text())
}

// Value returns the value attribute of the first element matching selector.
func (d *Document) Value(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, _ := d.doc.Find(selector).First().Attr("value")
	return v
}

// all returns every element in document order. Refs index into it, so a
// ref is only valid until the markup gains or loses elements.
func (d *Document) all() *goquery.Selection {
	return d.doc.Find("*")
}

func (d *Document) Query(_ context.Context, selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := d.doc.Find(selector)
	all := d.all()
	var out []dom.Element
	all.Each(func(i int, s *goquery.Selection) {
		if matched.IsSelection(s) {
			out = append(out, snapshot(all, s, i, true))
		}
	})
	return out, nil
}

func (d *Document) node(ref string) (*goquery.Selection, error) {
	i, err := strconv.Atoi(strings.TrimPrefix(ref, "n"))
	if err != nil {
		return nil, fmt.Errorf("bad element ref %q", ref)
	}
	s := d.all().Eq(i)
	if s.Length() == 0 {
		return nil, fmt.Errorf("element %s is detached", ref)
	}
	return s, nil
}

func (d *Document) Click(ctx context.Context, el dom.Element) error {
	d.mu.Lock()
	s, err := d.node(el.Ref)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.dispatch("click", s, ""); err != nil {
		d.mu.Unlock()
		return err
	}
	href, isLink := s.Closest("a[href]").Attr("href")
	d.mu.Unlock()

	if isLink {
		return d.Navigate(ctx, href)
	}
	return nil
}

func (d *Document) SetValue(_ context.Context, el dom.Element, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.node(el.Ref)
	if err != nil {
		return err
	}
	s.SetAttr("value", value)
	if goquery.NodeName(s) == "select" {
		s.Find("option").Each(func(_ int, o *goquery.Selection) {
			v, ok := o.Attr("value")
			if !ok {
				v = normalizeSpace(o.Text())
			}
			if v == value {
				o.SetAttr("selected", "")
			} else {
				o.RemoveAttr("selected")
			}
		})
	}
	event := "change"
	if goquery.NodeName(s) == "input" {
		event = "input"
	}
	return d.dispatch(event, s, value)
}

// dispatch runs bindings for the target and then each ancestor.
func (d *Document) dispatch(event string, target *goquery.Selection, value string) error {
	ref := ""
	idx := d.all().IndexOfSelection(target)
	if idx >= 0 {
		ref = "n" + strconv.Itoa(idx)
	}
	d.events = append(d.events, Dispatched{Type: event, Ref: ref})

	path := target.AddSelection(target.Parents())
	for i := 0; i < path.Length(); i++ {
		cur := path.Eq(i)
		for _, b := range d.bindings {
			if b.event != event || !cur.Is(b.selector) {
				continue
			}
			if err := b.handler(Event{Type: event, Target: target, Root: d.doc, Value: value}); err != nil {
				return fmt.Errorf("%s handler on %s: %w", event, b.selector, err)
			}
		}
	}
	return nil
}

func (d *Document) Location(_ context.Context) (dom.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return location(d.loc), nil
}

func (d *Document) Navigate(ctx context.Context, target string) error {
	d.mu.Lock()
	next, err := d.loc.Parse(target)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resolve %q: %w", target, err)
	}
	return d.load(ctx, next)
}

func (d *Document) Reload(ctx context.Context) error {
	d.mu.Lock()
	cur := *d.loc
	d.mu.Unlock()
	return d.load(ctx, &cur)
}

func (d *Document) load(ctx context.Context, u *url.URL) error {
	var markup string
	if d.loader != nil {
		m, err := d.loader(ctx, u.String())
		if err != nil {
			return fmt.Errorf("load %s: %w", u, err)
		}
		markup = m
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loader != nil {
		if err := d.parse(markup); err != nil {
			return err
		}
	}
	d.loc = u
	d.loads = append(d.loads, u.String())
	return nil
}

func (d *Document) Storage(_ context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyMap(d.storage), nil
}

func (d *Document) SetStorage(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.storage[key] = value
	return nil
}

func (d *Document) RemoveStorage(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.storage, key)
	return nil
}

func (d *Document) Cookies(_ context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyMap(d.cookies), nil
}

func (d *Document) SetCookie(_ context.Context, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies[name] = value
	return nil
}

func (d *Document) RemoveCookie(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cookies, name)
	return nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func snapshot(all, s *goquery.Selection, index int, withAncestors bool) dom.Element {
	el := dom.Element{
		Ref:    "n" + strconv.Itoa(index),
		Tag:    goquery.NodeName(s),
		Attrs:  map[string]string{},
		Text:   normalizeSpace(s.Text()),
		Bounds: parseBounds(s.AttrOr(BoundsAttr, "")),
	}
	if n := s.Get(0); n != nil {
		for _, a := range n.Attr {
			el.Attrs[a.Key] = a.Val
		}
	}
	_, el.Disabled = s.Attr("disabled")
	if withAncestors {
		parents := s.Parents()
		for i := 0; i < parents.Length(); i++ {
			p := parents.Eq(i)
			if goquery.NodeName(p) == "html" {
				break
			}
			el.Ancestors = append(el.Ancestors, snapshot(all, p, all.IndexOfSelection(p), false))
		}
	}
	return el
}

func parseBounds(raw string) dom.Rect {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return dom.Rect{}
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dom.Rect{}
		}
		v[i] = f
	}
	return dom.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
}

func location(u *url.URL) dom.Location {
	origin := ""
	if u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return dom.Location{Href: u.String(), Pathname: path, Origin: origin}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
