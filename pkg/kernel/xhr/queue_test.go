package xhr

import "testing"

func TestTake_FirstMatchDiscardsSkipped(t *testing.T) {
	q := NewQueue(nil)
	q.Observe(Request{Method: "get", Pathname: "/config", Href: "/config"})
	q.Observe(Request{Method: "POST", Pathname: "/users", Href: "/users?x=1"})
	q.Observe(Request{Method: "GET", Pathname: "/users", Href: "/users"})
	q.Observe(Request{Method: "GET", Pathname: "/later", Href: "/later"})

	r, ok := q.Take("GET", "pathname", "/users")
	if !ok {
		t.Fatal("expected a match")
	}
	if r.Href != "/users" {
		t.Errorf("href = %q, want /users", r.Href)
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1 (skipped observations discarded)", q.Len())
	}

	if _, ok := q.Take("GET", "pathname", "/config"); ok {
		t.Error("discarded observation should not match again")
	}
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0 after failed take", q.Len())
	}
}

func TestTake_ByHref(t *testing.T) {
	q := NewQueue(nil)
	q.Observe(Request{Method: "POST", Pathname: "/users", Href: "/users?x=1"})
	if _, ok := q.Take("POST", "href", "/users"); ok {
		t.Error("href comparison should include the query")
	}
	q.Observe(Request{Method: "POST", Pathname: "/users", Href: "/users?x=1"})
	if _, ok := q.Take("POST", "href", "/users?x=1"); !ok {
		t.Error("expected href match")
	}
}

func TestFilter(t *testing.T) {
	f, err := CompileFilter(`method != "OPTIONS" && !(pathname startsWith "/static")`)
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(f)
	if q.Observe(Request{Method: "OPTIONS", Pathname: "/users"}) {
		t.Error("OPTIONS should be filtered")
	}
	if q.Observe(Request{Method: "GET", Pathname: "/static/app.js"}) {
		t.Error("static asset should be filtered")
	}
	if !q.Observe(Request{Method: "GET", Pathname: "/users"}) {
		t.Error("GET /users should be queued")
	}
	if q.Len() != 1 || q.Dropped() != 2 {
		t.Errorf("len = %d dropped = %d, want 1 and 2", q.Len(), q.Dropped())
	}
}

func TestCompileFilter(t *testing.T) {
	f, err := CompileFilter("  ")
	if err != nil || f != nil {
		t.Errorf("empty filter = %v, %v; want nil, nil", f, err)
	}
	if _, err := CompileFilter(`pathname + 1`); err == nil {
		t.Error("expected error for non-boolean expression")
	}
}

func TestReset(t *testing.T) {
	q := NewQueue(nil)
	q.Observe(Request{Method: "GET", Pathname: "/"})
	q.Reset()
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0", q.Len())
	}
}
