// Package browser drives a Chrome page through the DevTools protocol as the
// live document under test. It also reports pointer-mode clicks and feeds
// outgoing XHR and fetch requests to the session's xhr queue.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
)

// ErrStaleElement is returned when an element snapshot no longer refers to
// a node attached to the page.
var ErrStaleElement = errors.New("element is no longer attached to the page")

// Options configures Launch.
type Options struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	Headless bool
	Width    int
	Height   int
	// XHR receives outgoing XHR and fetch requests. Nil disables tracking.
	XHR *xhr.Queue
	// OnClick is called, on its own goroutine, with the document position
	// of every click made while capture is armed.
	OnClick func(dom.Point)
	Logger  *zap.Logger
}

// Browser is a dom.Document backed by a Chrome tab.
type Browser struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	queue   *xhr.Queue
	onClick func(dom.Point)

	mu       sync.Mutex
	captured bool
	scriptID page.ScriptIdentifier
}

var (
	_ dom.Document  = (*Browser)(nil)
	_ dom.Evaluator = (*Browser)(nil)
)

// Launch starts Chrome and prepares its first tab. The browser lives until
// Close or until ctx is cancelled.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 800
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	sugar := opts.Logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	b := &Browser{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		logger:  opts.Logger,
		queue:   opts.XHR,
		onClick: opts.OnClick,
	}
	chromedp.ListenTarget(tabCtx, b.handleEvent)

	setup := []chromedp.Action{
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return b.installCapture(ctx, false)
		}),
	}
	if b.queue != nil {
		setup = append([]chromedp.Action{network.Enable()}, setup...)
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		b.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.logger.Info("browser started", zap.Bool("headless", opts.Headless))
	return b, nil
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SetCapture arms or disarms pointer-mode click capture. While armed,
// trusted clicks are swallowed and reported through OnClick.
func (b *Browser) SetCapture(ctx context.Context, armed bool) error {
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return b.installCapture(ctx, armed)
	}))
}

// Capturing reports whether click capture is armed.
func (b *Browser) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captured
}

func (b *Browser) installCapture(ctx context.Context, armed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scriptID != "" {
		if err := page.RemoveScriptToEvaluateOnNewDocument(b.scriptID).Do(ctx); err != nil {
			return fmt.Errorf("remove capture script: %w", err)
		}
		b.scriptID = ""
	}
	src := captureScript(armed)
	id, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
	if err != nil {
		return fmt.Errorf("add capture script: %w", err)
	}
	b.scriptID = id
	var ok bool
	if err := chromedp.Evaluate(src, &ok).Do(ctx); err != nil {
		return fmt.Errorf("arm capture: %w", err)
	}
	b.captured = armed
	return nil
}

// handleEvent runs on the chromedp event loop and must not block.
func (b *Browser) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name != bindingName || b.onClick == nil {
			return
		}
		var p dom.Point
		if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
			b.logger.Warn("bad click payload", zap.String("payload", ev.Payload), zap.Error(err))
			return
		}
		go b.onClick(p)
	case *network.EventRequestWillBeSent:
		if b.queue == nil || ev.Request == nil {
			return
		}
		if ev.Type != network.ResourceTypeXHR && ev.Type != network.ResourceTypeFetch {
			return
		}
		if r, ok := requestOf(ev.Request.Method, ev.Request.URL); ok {
			if b.queue.Observe(r) {
				b.logger.Debug("xhr observed", zap.String("method", r.Method), zap.String("href", r.Href))
			}
		}
	}
}

// requestOf converts a raw request URL into an xhr observation.
func requestOf(method, raw string) (xhr.Request, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return xhr.Request{}, false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	href := path
	if u.RawQuery != "" {
		href += "?" + u.RawQuery
	}
	return xhr.Request{Method: method, Pathname: path, Href: href}, true
}

// run executes actions on the tab, abandoning them when ctx ends.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (b *Browser) eval(ctx context.Context, src string, out any) error {
	return b.run(ctx, chromedp.Evaluate(src, out))
}

// ---------------------------------------------------------------------------
// dom.Document
// ---------------------------------------------------------------------------

// Query snapshots the elements matching selector.
func (b *Browser) Query(ctx context.Context, selector string) ([]dom.Element, error) {
	var els []dom.Element
	if err := b.eval(ctx, queryScript(selector), &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (b *Browser) Click(ctx context.Context, el dom.Element) error {
	ref, err := strconv.Atoi(el.Ref)
	if err != nil {
		return fmt.Errorf("bad element ref %q", el.Ref)
	}
	var ok bool
	if err := b.eval(ctx, clickScript(ref), &ok); err != nil {
		return err
	}
	if !ok {
		return ErrStaleElement
	}
	return nil
}

func (b *Browser) SetValue(ctx context.Context, el dom.Element, value string) error {
	ref, err := strconv.Atoi(el.Ref)
	if err != nil {
		return fmt.Errorf("bad element ref %q", el.Ref)
	}
	var ok bool
	if err := b.eval(ctx, setValueScript(ref, value), &ok); err != nil {
		return err
	}
	if !ok {
		return ErrStaleElement
	}
	return nil
}

func (b *Browser) Location(ctx context.Context) (dom.Location, error) {
	var loc dom.Location
	err := b.eval(ctx, locationScript, &loc)
	return loc, err
}

// Navigate loads target, resolving a relative path against the current
// page.
func (b *Browser) Navigate(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if !u.IsAbs() {
		loc, err := b.Location(ctx)
		if err != nil {
			return err
		}
		base, err := url.Parse(loc.Href)
		if err != nil || !base.IsAbs() {
			return fmt.Errorf("navigate: relative address %q with no page loaded", target)
		}
		u = base.ResolveReference(u)
	}
	b.logger.Debug("navigate", zap.String("url", u.String()))
	return b.run(ctx, chromedp.Navigate(u.String()))
}

func (b *Browser) Reload(ctx context.Context) error {
	return b.run(ctx, chromedp.Reload())
}

func (b *Browser) Storage(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := b.eval(ctx, storageScript, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Browser) SetStorage(ctx context.Context, key, value string) error {
	var ok bool
	return b.eval(ctx, setStorageScript(key, value), &ok)
}

func (b *Browser) RemoveStorage(ctx context.Context, key string) error {
	var ok bool
	return b.eval(ctx, removeStorageScript(key), &ok)
}

func (b *Browser) Cookies(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Browser) SetCookie(ctx context.Context, name, value string) error {
	loc, err := b.Location(ctx)
	if err != nil {
		return err
	}
	return b.run(ctx, network.SetCookie(name, value).WithURL(loc.Href))
}

func (b *Browser) RemoveCookie(ctx context.Context, name string) error {
	loc, err := b.Location(ctx)
	if err != nil {
		return err
	}
	return b.run(ctx, network.DeleteCookies(name).WithURL(loc.Href))
}

// Evaluate runs source in the page. An exception fails the call.
func (b *Browser) Evaluate(ctx context.Context, source string) error {
	return b.run(ctx, chromedp.Evaluate(source, nil, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}
