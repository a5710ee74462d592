package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/stepwise/pkg/htmldoc"
	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

const counterPage = `<html><body>
<button data-test="inc" data-bounds="100,100,80,20">Increase</button>
<p data-test="count" data-bounds="100,200,100,20">0</p>
<ul>
  <li data-test="row" data-bounds="500,0,100,20">one</li>
  <li data-test="row" data-bounds="500,40,100,20">two</li>
</ul>
</body></html>`

type fixture struct {
	s   *Session
	doc *htmldoc.Document
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	doc, err := htmldoc.New(counterPage, "http://localhost:3000/counter")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	doc.On("click", `[data-test="inc"]`, func(ev htmldoc.Event) error {
		count++
		ev.Root.Find(`[data-test="count"]`).SetText(strconv.Itoa(count))
		return nil
	})
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := actions.DefaultConfig()
	opts := Options{
		Registry: actions.NewBuiltinRegistry(cfg),
		Env:      &actions.Env{Doc: doc, XHR: xhr.NewQueue(nil), Config: cfg},
		Engine:   playback.Config{Timeout: 200 * time.Millisecond, RetryDelay: time.Millisecond},
		Store:    fs,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return &fixture{s: s, doc: doc}
}

func (f *fixture) count() string { return f.doc.Text(`[data-test="count"]`) }

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without registry")
	}
	if _, err := New(Options{Registry: actions.NewRegistry(), Env: &actions.Env{}}); err == nil {
		t.Error("expected error without document")
	}
}

func TestNewFile_Resets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.doc.SetCookie(ctx, "sid", "1"); err != nil {
		t.Fatal(err)
	}
	if err := f.s.NewFile(ctx); err != nil {
		t.Fatal(err)
	}
	tf := f.s.File()
	if tf.Name != DefaultName || tf.Description != DefaultDescription || !tf.ChecksErrorsAfterEveryStep {
		t.Errorf("file = %+v", tf)
	}
	if f.s.Mode() != ModePointer {
		t.Errorf("mode = %q, want pointer", f.s.Mode())
	}
	cookies, _ := f.doc.Cookies(ctx)
	if len(cookies) != 0 {
		t.Errorf("cookies = %v, want none", cookies)
	}
	loc, _ := f.doc.Location(ctx)
	if loc.Href != "http://localhost:3000/" {
		t.Errorf("href = %q", loc.Href)
	}
}

func TestClick_ProducesPendingStep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)

	res, err := f.s.Click(ctx, dom.Point{X: 140, Y: 110})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected a click result")
	}
	if res.Step.Action != "click" || res.Step.Selector != `[data-test="inc"]` {
		t.Errorf("step = %+v", res.Step)
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning: %v", res.Warning)
	}
	pending, ok := f.s.Pending()
	if !ok || pending.ID != res.Step.ID {
		t.Errorf("pending = %+v, %v", pending, ok)
	}

	// Clicking while editing keeps the id and comment.
	pending.Comment = "press it"
	if err := f.s.SetPending(pending); err != nil {
		t.Fatal(err)
	}
	res2, err := f.s.Click(ctx, dom.Point{X: 150, Y: 210})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Step.ID != pending.ID || res2.Step.Comment != "press it" {
		t.Errorf("retargeted step = %+v", res2.Step)
	}
	if res2.Step.Action != "exist" {
		t.Errorf("action = %q, want exist", res2.Step.Action)
	}
}

func TestClick_NothingNearby(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetPending(schema.Step{Action: "reload"})

	res, err := f.s.Click(ctx, dom.Point{X: 5000, Y: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
	if p, ok := f.s.Pending(); !ok || p.Action != "reload" {
		t.Errorf("pending changed: %+v", p)
	}
}

func TestClick_AmbiguousWarning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)

	res, err := f.s.Click(ctx, dom.Point{X: 550, Y: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Matches != 2 {
		t.Errorf("matches = %d, want 2", res.Matches)
	}
	if !errors.Is(res.Warning, failure.ErrAmbiguousMatch) {
		t.Errorf("warning = %v, want AmbiguousMatch", res.Warning)
	}
}

func TestClick_Guards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.s.Click(ctx, dom.Point{}); !errors.Is(err, ErrNoFile) {
		t.Errorf("err = %v, want ErrNoFile", err)
	}
	f.s.NewFile(ctx)
	f.s.SetMode(ModeNavigation)
	if _, err := f.s.Click(ctx, dom.Point{}); !errors.Is(err, ErrNavigationMode) {
		t.Errorf("err = %v, want ErrNavigationMode", err)
	}
}

func TestConfirm_AppendReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)

	// First step: no implicit replay.
	f.s.SetPending(schema.Step{Action: "click", Selector: `[data-test="inc"]`})
	res, err := f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Replayed || len(res.Added) != 1 {
		t.Errorf("first confirm = %+v", res)
	}
	if f.count() != "0" {
		t.Errorf("count = %q, want 0", f.count())
	}
	if _, ok := f.s.Pending(); ok {
		t.Error("pending step should be cleared")
	}

	// Second step: only the new step runs.
	f.s.SetPending(schema.Step{Action: "click", Selector: `[data-test="inc"]`})
	res, err = f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Replayed || res.ReplayErr != nil {
		t.Errorf("second confirm = %+v", res)
	}
	if f.count() != "1" {
		t.Errorf("count = %q, want 1", f.count())
	}
	if got := f.s.File().Len(); got != 2 {
		t.Errorf("steps = %d, want 2", got)
	}
}

func TestConfirm_ReplayFailureHalts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetPending(schema.Step{Action: "reload", SelectType: schema.SelectNone})
	f.s.Confirm(ctx)

	f.s.SetPending(schema.Step{Action: "exist", Selector: "#nope"})
	res, err := f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.ReplayErr, failure.ErrElementNotFound) {
		t.Errorf("ReplayErr = %v, want ElementNotFound", res.ReplayErr)
	}
	st := f.s.State()
	if st.Phase != playback.PhaseHalted || st.FailingStep != 1 {
		t.Errorf("state = %+v", st)
	}
}

func TestConfirm_UpdatesExisting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetPending(schema.Step{ID: "a", Action: "exist", Selector: "#x"})
	f.s.Confirm(ctx)

	step, err := f.s.Edit("a")
	if err != nil {
		t.Fatal(err)
	}
	step.Selector = "#y"
	f.s.SetPending(step)
	res, err := f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Updated {
		t.Errorf("result = %+v, want update", res)
	}
	tf := f.s.File()
	if tf.Len() != 1 || tf.Steps[0].Selector != "#y" {
		t.Errorf("file = %+v", tf.Steps)
	}
}

func TestConfirm_NoPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	if _, err := f.s.Confirm(ctx); !errors.Is(err, ErrNoPending) {
		t.Errorf("err = %v, want ErrNoPending", err)
	}
}

func TestConfirm_TrackLocation(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TrackLocation = true })
	ctx := context.Background()
	f.s.NewFile(ctx)
	if err := f.doc.Navigate(ctx, "/counter"); err != nil {
		t.Fatal(err)
	}

	f.s.SetPending(schema.Step{Action: "exist", Selector: `[data-test="count"]`})
	res, err := f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 2 || res.Added[0].Action != "location" || res.Added[0].Selector != "/counter" {
		t.Fatalf("added = %+v", res.Added)
	}

	// Same pathname: no second location step.
	f.s.SetPending(schema.Step{Action: "exist", Selector: `[data-test="inc"]`})
	res, err = f.s.Confirm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 1 {
		t.Errorf("added = %+v, want just the step", res.Added)
	}
	if res.ReplayErr != nil {
		t.Errorf("ReplayErr = %v", res.ReplayErr)
	}
}

func TestSequenceEdits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	for _, id := range []string{"a", "b", "c"} {
		f.s.SetPending(schema.Step{ID: id, Action: "reload", SelectType: schema.SelectNone})
		if _, err := f.s.Confirm(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.s.MoveUp("c"); err != nil {
		t.Fatal(err)
	}
	if err := f.s.MoveDown("a"); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Delete("b"); err != nil {
		t.Fatal(err)
	}
	tf := f.s.File()
	if tf.Len() != 2 || tf.Steps[0].ID != "c" || tf.Steps[1].ID != "a" {
		ids := []string{}
		for _, s := range tf.Steps {
			ids = append(ids, s.ID)
		}
		t.Errorf("order = %v, want [c a]", ids)
	}
	if err := f.s.Update(schema.Step{ID: "zz", Action: "reload"}); err == nil {
		t.Error("expected error updating missing step")
	}
}

func TestRun_PlaysWholeFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetPending(schema.Step{Action: "click", Selector: `[data-test="inc"]`})
	f.s.Confirm(ctx)
	f.s.SetPending(schema.Step{Action: "exist", SelectType: schema.SelectByContent, Selector: "1"})
	f.s.Confirm(ctx)

	if err := f.s.Run(); err != nil {
		t.Fatal(err)
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := f.s.Engine().Wait(wctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != playback.PhaseIdle || st.Err != nil {
		t.Errorf("state = %+v", st)
	}
	if f.count() != "1" {
		t.Errorf("count = %q, want 1", f.count())
	}
}

func TestSaveAndOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetMeta("checkout", "buys a thing", false)
	f.s.SetPending(schema.Step{ID: "a", Action: "reload", SelectType: schema.SelectNone})
	f.s.Confirm(ctx)

	if err := f.s.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if f.s.File() != nil {
		t.Error("file should be discarded after save")
	}
	if f.s.Mode() != ModeNavigation {
		t.Errorf("mode = %q, want navigation", f.s.Mode())
	}

	if err := f.s.Open(ctx, "checkout"); err != nil {
		t.Fatal(err)
	}
	tf := f.s.File()
	if tf.Name != "checkout" || tf.Len() != 1 {
		t.Fatalf("opened = %+v", tf)
	}
	if tf.Steps[0].ID == "a" {
		t.Error("expected regenerated step id")
	}
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetPending(schema.Step{Action: "click", Selector: `[data-test="inc"]`})
	f.s.Confirm(ctx)

	script, err := f.s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, `cy.get('[data-test="inc"]').click()`) {
		t.Errorf("script missing step code:\n%s", script)
	}
	if f.s.File() != nil {
		t.Error("file should be discarded after export")
	}

	if err := f.s.Import(script); err != nil {
		t.Fatal(err)
	}
	if tf := f.s.File(); tf == nil || tf.Len() != 1 || tf.Steps[0].Action != "click" {
		t.Errorf("imported = %+v", tf)
	}
}

func TestExport_NoFile(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.s.Export(context.Background()); !errors.Is(err, ErrNoFile) {
		t.Errorf("err = %v, want ErrNoFile", err)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if got := f.s.Preview(ctx, schema.Step{Action: "reload"}); got != "cy.reload()" {
		t.Errorf("Preview = %q", got)
	}
	got := f.s.Preview(ctx, schema.Step{Action: "teleport"})
	if !strings.HasPrefix(got, "// Unrecognized action") {
		t.Errorf("Preview = %q", got)
	}
}

func TestMatchCount(t *testing.T) {
	f := newFixture(t, nil)
	n, err := f.s.MatchCount(context.Background(), schema.Step{Selector: `[data-test="row"]`})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("MatchCount = %d, want 2", n)
	}
}

func TestOnMode(t *testing.T) {
	var modes []Mode
	f := newFixture(t, func(o *Options) { o.OnMode = func(m Mode) { modes = append(modes, m) } })
	ctx := context.Background()
	f.s.NewFile(ctx)
	f.s.SetMode(ModeNavigation)
	f.s.Reset()
	want := []Mode{ModePointer, ModeNavigation, ModeNavigation}
	if len(modes) != len(want) {
		t.Fatalf("modes = %v, want %v", modes, want)
	}
	for i := range want {
		if modes[i] != want[i] {
			t.Errorf("modes[%d] = %q, want %q", i, modes[i], want[i])
		}
	}
}
