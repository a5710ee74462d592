package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
)

func TestRequestOf(t *testing.T) {
	tests := []struct {
		raw, path, href string
	}{
		{"http://localhost:3000/api/items?page=2", "/api/items", "/api/items?page=2"},
		{"http://localhost:3000", "/", "/"},
		{"https://example.com/a%20b", "/a%20b", "/a%20b"},
	}
	for _, tt := range tests {
		r, ok := requestOf("get", tt.raw)
		if !ok {
			t.Fatalf("requestOf(%q) failed", tt.raw)
		}
		if r.Pathname != tt.path || r.Href != tt.href {
			t.Errorf("requestOf(%q) = %+v, want pathname %q href %q", tt.raw, r, tt.path, tt.href)
		}
	}
	if _, ok := requestOf("GET", "://bad"); ok {
		t.Error("expected failure for malformed URL")
	}
}

func TestHandleEvent_XHR(t *testing.T) {
	q := xhr.NewQueue(nil)
	b := &Browser{logger: zap.NewNop(), queue: q}

	b.handleEvent(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeDocument,
		Request: &network.Request{Method: "GET", URL: "http://localhost:3000/"},
	})
	b.handleEvent(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeFetch,
		Request: &network.Request{Method: "post", URL: "http://localhost:3000/api/cart?x=1"},
	})
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	r, ok := q.Take("POST", "href", "/api/cart?x=1")
	if !ok || r.Pathname != "/api/cart" {
		t.Errorf("Take = %+v, %v", r, ok)
	}
}

func TestHandleEvent_Click(t *testing.T) {
	got := make(chan dom.Point, 1)
	b := &Browser{logger: zap.NewNop(), onClick: func(p dom.Point) { got <- p }}

	b.handleEvent(&runtime.EventBindingCalled{Name: "other", Payload: `{"x":1,"y":1}`})
	b.handleEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: `not json`})
	b.handleEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: `{"x":12.5,"y":40}`})

	select {
	case p := <-got:
		if p.X != 12.5 || p.Y != 40 {
			t.Errorf("point = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("click not reported")
	}
}

func TestScripts_QuoteArguments(t *testing.T) {
	q := queryScript(`[data-test="it's"]`)
	if !strings.Contains(q, `document.querySelectorAll("[data-test=\"it's\"]")`) {
		t.Errorf("query script does not quote selector:\n%s", q)
	}
	v := setValueScript(3, "a\"b</script>")
	if !strings.Contains(v, `[3]`) || strings.Contains(v, "</script>") {
		t.Errorf("set value script = %s", v)
	}
	if !strings.Contains(captureScript(true), "window.__stepwiseCapture = true") {
		t.Error("capture script not armed")
	}
}

const livePage = `<!doctype html><html><body>
<button data-test="go" onclick="document.getElementById('out').textContent = 'clicked'; fetch('/api/ping?n=1', {method: 'POST'})">Go</button>
<input data-test="name" oninput="document.getElementById('out').textContent = this.value">
<p id="out">idle</p>
</body></html>`

// TestLive drives a real Chrome. Set STEPWISE_CHROME=1 to run it.
func TestLive(t *testing.T) {
	if os.Getenv("STEPWISE_CHROME") == "" {
		t.Skip("STEPWISE_CHROME not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(livePage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q := xhr.NewQueue(nil)
	b, err := Launch(ctx, Options{Headless: true, XHR: q})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.Navigate(ctx, srv.URL+"/shop"); err != nil {
		t.Fatal(err)
	}
	loc, err := b.Location(ctx)
	if err != nil || loc.Pathname != "/shop" {
		t.Fatalf("location = %+v, %v", loc, err)
	}

	btns, err := b.Query(ctx, `[data-test="go"]`)
	if err != nil || len(btns) != 1 {
		t.Fatalf("query = %v, %v", btns, err)
	}
	if btns[0].Tag != "button" || btns[0].Bounds.Width == 0 {
		t.Errorf("button snapshot = %+v", btns[0])
	}
	if err := b.Click(ctx, btns[0]); err != nil {
		t.Fatal(err)
	}
	out, _ := b.Query(ctx, "#out")
	if len(out) != 1 || out[0].Text != "clicked" {
		t.Errorf("out = %+v", out)
	}
	deadline := time.Now().Add(5 * time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := q.Take("POST", "pathname", "/api/ping"); !ok {
		t.Error("fetch was not observed")
	}

	inputs, _ := b.Query(ctx, `[data-test="name"]`)
	if err := b.SetValue(ctx, inputs[0], "ada"); err != nil {
		t.Fatal(err)
	}
	out, _ = b.Query(ctx, "#out")
	if out[0].Text != "ada" {
		t.Errorf("out after input = %q, want ada", out[0].Text)
	}

	if err := b.SetStorage(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	st, _ := b.Storage(ctx)
	if st["k"] != "v" {
		t.Errorf("storage = %v", st)
	}
	if err := b.SetCookie(ctx, "sid", "42"); err != nil {
		t.Fatal(err)
	}
	cookies, _ := b.Cookies(ctx)
	if cookies["sid"] != "42" {
		t.Errorf("cookies = %v", cookies)
	}
	if err := b.RemoveCookie(ctx, "sid"); err != nil {
		t.Fatal(err)
	}
	if err := b.Evaluate(ctx, "throw new Error('boom')"); err == nil {
		t.Error("expected evaluation error")
	}
}
