// Package xhr holds the FIFO of outgoing requests observed on the page under
// test, drained by xhr assertions.
package xhr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Request is one observed outgoing request.
type Request struct {
	Method   string `json:"method"`
	Pathname string `json:"pathname"`
	// Href is the path plus query string.
	Href string `json:"href"`
}

// Property returns the request field named by an xhr step's property
// argument: "pathname" or "href".
func (r Request) Property(name string) string {
	if name == "pathname" {
		return r.Pathname
	}
	return r.Href
}

// Queue is a FIFO of observed requests owned by one session. The network
// listener writes from its own goroutine, so access is serialized.
type Queue struct {
	mu      sync.Mutex
	items   []Request
	filter  *Filter
	dropped int
}

// NewQueue returns an empty queue. A nil filter admits every request.
func NewQueue(filter *Filter) *Queue {
	return &Queue{filter: filter}
}

// Observe appends r unless the filter rejects it. Reports whether it was
// queued.
func (q *Queue) Observe(r Request) bool {
	r.Method = strings.ToUpper(r.Method)
	if q.filter != nil && !q.filter.Allow(r) {
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
	return true
}

// Take consumes observations in arrival order until one matches method and
// property/value. Observations passed over are discarded, not requeued.
func (q *Queue) Take(method, property, value string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	method = strings.ToUpper(method)
	for len(q.items) > 0 {
		r := q.items[0]
		q.items = q.items[1:]
		if r.Method == method && r.Property(property) == value {
			return r, true
		}
	}
	return Request{}, false
}

// Len returns the number of queued observations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued observations without consuming them.
func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Request(nil), q.items...)
}

// Dropped returns how many requests the filter rejected.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards every queued observation.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// ---------------------------------------------------------------------------
// Filter
// ---------------------------------------------------------------------------

// Filter decides which observed requests are recorded, from a boolean
// expr-lang expression over method, pathname and href.
type Filter struct {
	source  string
	program *vm.Program
}

func filterEnv(r Request) map[string]any {
	return map[string]any{
		"method":   r.Method,
		"pathname": r.Pathname,
		"href":     r.Href,
	}
}

// CompileFilter compiles source. An empty source yields a nil filter.
func CompileFilter(source string) (*Filter, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(filterEnv(Request{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile xhr filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the filter source.
func (f *Filter) String() string { return f.source }

// Allow reports whether r passes the filter. Evaluation errors reject.
func (f *Filter) Allow(r Request) bool {
	out, err := expr.Run(f.program, filterEnv(r))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}
