package dom

import (
	"context"
	"errors"
	"testing"
)

// fakeDoc answers Query from a fixed table; other methods are unused.
type fakeDoc struct {
	Document
	bySelector map[string][]Element
	err        error
}

func (f *fakeDoc) Query(_ context.Context, selector string) ([]Element, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySelector[selector], nil
}

func TestRectCenterAndDistance(t *testing.T) {
	c := Rect{X: 10, Y: 20, Width: 80, Height: 20}.Center()
	if c != (Point{X: 50, Y: 30}) {
		t.Errorf("Center = %+v, want {50 30}", c)
	}
	if d := Distance(Point{0, 0}, Point{3, 4}); d != 5 {
		t.Errorf("Distance = %v, want 5", d)
	}
}

func TestElementAttrs(t *testing.T) {
	el := Element{Attrs: map[string]string{"class": "btn  btn-primary", "data-test": ""}}
	if v, ok := el.Attr("data-test"); !ok || v != "" {
		t.Errorf("Attr(data-test) = %q, %v; want present and empty", v, ok)
	}
	if _, ok := el.Attr("id"); ok {
		t.Error("Attr(id) reported present")
	}
	if !el.HasClass("btn") || !el.HasClass("btn-primary") || el.HasClass("bt") {
		t.Errorf("HasClass mismatch for %q", el.Attrs["class"])
	}
}

func TestLocationProperty(t *testing.T) {
	loc := Location{Href: "http://x/a?b=1", Pathname: "/a", Origin: "http://x"}
	tests := map[string]string{
		"href":     "http://x/a?b=1",
		"origin":   "http://x",
		"pathname": "/a",
		"other":    "/a",
	}
	for name, want := range tests {
		if got := loc.Property(name); got != want {
			t.Errorf("Property(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFind_BySelector(t *testing.T) {
	doc := &fakeDoc{bySelector: map[string][]Element{"#go": {{Ref: "1"}}}}
	els, err := Find(context.Background(), doc, false, "#go")
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 || els[0].Ref != "1" {
		t.Errorf("Find = %+v", els)
	}
}

func TestFind_ByContent(t *testing.T) {
	doc := &fakeDoc{bySelector: map[string][]Element{
		ContentSelector: {
			{Ref: "1", Tag: "p", Text: "Thanks for your order"},
			{Ref: "2", Tag: "button", Text: "Pay"},
			{Ref: "3", Tag: "h1", Text: "Thanks"},
		},
	}}
	els, err := Find(context.Background(), doc, true, "Thanks")
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 || els[0].Ref != "1" || els[1].Ref != "3" {
		t.Errorf("Find = %+v, want refs 1 and 3", els)
	}
}

func TestFind_QueryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Find(context.Background(), &fakeDoc{err: boom}, false, "#x")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(true, "Pay"); got != `content "Pay"` {
		t.Errorf("Describe(content) = %s", got)
	}
	if got := Describe(false, "#go"); got != `selector "#go"` {
		t.Errorf("Describe(selector) = %s", got)
	}
}
