package resolve

import (
	"context"
	"testing"

	"github.com/ormasoftchile/stepwise/pkg/htmldoc"
	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

const page = `<html><body>
<div data-test="cart" data-bounds="0,0,1000,1000">
  <button data-test="btn-increase" data-bounds="100,100,80,20">Increase</button>
  <input data-test="qty" data-bounds="100,200,100,20">
</div>
<ul>
  <li data-test="row" data-bounds="500,0,100,20">one</li>
  <li data-test="row" data-bounds="500,40,100,20">two</li>
</ul>
<section data-test="list" data-bounds="700,300,200,100">
  <span data-test="item" data-bounds="700,300,50,20">a</span>
</section>
<span data-test="item" data-bounds="2000,2000,10,10">b</span>
<a href="/help" data-bounds="100,400,40,20">Help</a>
<p data-bounds="100,500,200,20">Welcome back</p>
<p data-bounds="100,600,200,20">Welcome back</p>
<div class="btn" id="go" data-test="go" data-bounds="100,700,40,20">Go</div>
</body></html>`

func newDoc(t *testing.T) dom.Document {
	t.Helper()
	d, err := htmldoc.New(page, "http://localhost/")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestResolveClick_UniqueTestAttr(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 141, Y: 109}, newDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	if desc == nil {
		t.Fatal("expected a descriptor")
	}
	if desc.Selector != `[data-test="btn-increase"]` {
		t.Errorf("selector = %q", desc.Selector)
	}
	if desc.SelectType != schema.SelectBySelector {
		t.Errorf("selectType = %q, want selector", desc.SelectType)
	}
	if desc.Action != "click" {
		t.Errorf("action = %q, want click", desc.Action)
	}
	if desc.Matches != 1 || desc.Ambiguous() {
		t.Errorf("matches = %d, want 1", desc.Matches)
	}
}

func TestResolveClick_InputProposesType(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 150, Y: 210}, newDoc(t))
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Action != "type" || desc.Selector != `[data-test="qty"]` {
		t.Errorf("got %s %s, want type [data-test=\"qty\"]", desc.Action, desc.Selector)
	}
}

func TestResolveClick_BeyondCutoff(t *testing.T) {
	desc, err := New(WithCutoff(50)).ResolveClick(context.Background(), dom.Point{X: 1500, Y: 1500}, newDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	if desc != nil {
		t.Errorf("desc = %+v, want nil", desc)
	}
}

func TestResolveClick_DuplicateIDUsesAncestor(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 725, Y: 310}, newDoc(t))
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Selector != `[data-test="list"] [data-test="item"]` {
		t.Errorf("selector = %q", desc.Selector)
	}
	if desc.Matches != 1 {
		t.Errorf("matches = %d, want 1", desc.Matches)
	}
}

func TestResolveClick_DuplicateWithoutAncestorIsAmbiguous(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 550, Y: 10}, newDoc(t))
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Selector != `[data-test="row"]` {
		t.Errorf("selector = %q", desc.Selector)
	}
	if !desc.Ambiguous() {
		t.Errorf("matches = %d, want ambiguous", desc.Matches)
	}
}

func TestResolveClick_AnchorFallsBackToHref(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 120, Y: 410}, newDoc(t))
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Selector != `[href="/help"]` || desc.Action != "click" {
		t.Errorf("got %s %s", desc.Action, desc.Selector)
	}
}

func TestResolveClick_ParagraphFallsBackToContent(t *testing.T) {
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 200, Y: 510}, newDoc(t))
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.SelectType != schema.SelectByContent || desc.Selector != "Welcome back" {
		t.Errorf("got %s %q", desc.SelectType, desc.Selector)
	}
	if desc.Action != "exist" {
		t.Errorf("action = %q, want exist", desc.Action)
	}
	if desc.Matches != 2 {
		t.Errorf("matches = %d, want 2", desc.Matches)
	}
}

func TestResolveClick_SelectWithoutTestAttr(t *testing.T) {
	doc, err := htmldoc.New(`<html><body>
<select name="size" data-bounds="100,100,120,20"><option>S</option><option>M</option></select>
</body></html>`, "http://localhost/")
	if err != nil {
		t.Fatal(err)
	}
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 150, Y: 110}, doc)
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Action != "select" {
		t.Errorf("action = %q, want select", desc.Action)
	}
	if desc.SelectType != schema.SelectBySelector || desc.Selector != `select[name="size"]` {
		t.Errorf("got %s %q", desc.SelectType, desc.Selector)
	}
	if desc.Matches != 1 {
		t.Errorf("matches = %d, want 1", desc.Matches)
	}
}

func TestResolveClick_TieGoesToLaterCandidate(t *testing.T) {
	const tied = `<html><body>
<div data-test="outer" data-bounds="0,0,100,100"><span data-test="inner" data-bounds="25,25,50,50">x</span></div>
</body></html>`
	d, err := htmldoc.New(tied, "http://localhost/")
	if err != nil {
		t.Fatal(err)
	}
	desc, err := New().ResolveClick(context.Background(), dom.Point{X: 50, Y: 50}, d)
	if err != nil || desc == nil {
		t.Fatalf("desc = %v, err = %v", desc, err)
	}
	if desc.Selector != `[data-test="inner"]` {
		t.Errorf("selector = %q, want inner", desc.Selector)
	}
}

func TestInferAction(t *testing.T) {
	tests := []struct {
		el   dom.Element
		want string
	}{
		{dom.Element{Tag: "input"}, "type"},
		{dom.Element{Tag: "select"}, "select"},
		{dom.Element{Tag: "button"}, "click"},
		{dom.Element{Tag: "a"}, "click"},
		{dom.Element{Tag: "div", Attrs: map[string]string{"class": "btn btn-primary"}}, "click"},
		{dom.Element{Tag: "h2"}, "exist"},
	}
	for _, tt := range tests {
		if got := InferAction(tt.el); got != tt.want {
			t.Errorf("InferAction(%s) = %q, want %q", tt.el.Tag, got, tt.want)
		}
	}
}

func TestAttrSelector_Escapes(t *testing.T) {
	if got := AttrSelector("data-test", `say "hi"`); got != `[data-test="say \"hi\""]` {
		t.Errorf("got %s", got)
	}
}
