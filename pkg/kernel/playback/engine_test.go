package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

type fakeExec struct {
	mu    sync.Mutex
	calls []string
	fails map[string]int   // remaining failures per "id:action"
	errs  map[string]error // permanent failure per "id:action"
}

func newFakeExec() *fakeExec {
	return &fakeExec{fails: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeExec) Execute(_ context.Context, step schema.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := step.ID + ":" + step.Action
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return err
	}
	if f.fails[key] > 0 {
		f.fails[key]--
		return failure.New(failure.KindElementNotFound, "not yet")
	}
	return nil
}

func (f *fakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testFile(checks bool, ids ...string) *schema.TestFile {
	tf := schema.New("t", "")
	tf.ChecksErrorsAfterEveryStep = checks
	for _, id := range ids {
		tf.Append(schema.Step{ID: id, Action: "exist", Selector: "#" + id})
	}
	return tf
}

func newEngine(exec Executor) (*Engine, *fakeClock) {
	clk := newFakeClock()
	return New(exec, Config{Clock: clk}), clk
}

func TestEngine_CompletesInOrder(t *testing.T) {
	exec := newFakeExec()
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a", "b", "c"))

	if s := e.State(); !s.Running || s.StepNumber != 0 || s.FailingStep != -1 {
		t.Fatalf("state after start = %+v", s)
	}
	if len(exec.Calls()) != 0 {
		t.Error("first attempt should wait for the start delay")
	}

	clk.Step(50 * time.Millisecond)

	s := e.State()
	if s.Phase != PhaseIdle || s.Running || !s.Completed {
		t.Errorf("state = %+v, want completed idle", s)
	}
	if got := exec.Calls(); len(got) != 3 || got[0] != "a:exist" || got[2] != "c:exist" {
		t.Errorf("calls = %v", got)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestEngine_RetriesThenAdvances(t *testing.T) {
	exec := newFakeExec()
	exec.fails["a:exist"] = 3
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a", "b"))

	clk.Step(150 * time.Millisecond)
	s := e.State()
	if s.StepNumber != 0 || s.Attempts != 3 || !s.Running {
		t.Fatalf("state = %+v, want step 0 after 3 attempts", s)
	}

	clk.Step(50 * time.Millisecond)
	s = e.State()
	if !s.Completed || s.Err != nil || s.FailingStep != -1 {
		t.Errorf("state = %+v, want completed without error", s)
	}
}

func TestEngine_HaltsWhenWindowCloses(t *testing.T) {
	exec := newFakeExec()
	exec.fails["b:exist"] = 1 << 30
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a", "b", "c"))

	// a passes at 50ms, so b's window opens there and closes at 5050ms.
	clk.Step(5000 * time.Millisecond)
	if s := e.State(); !s.Running || s.StepNumber != 1 {
		t.Fatalf("state = %+v, want still retrying step 1", s)
	}

	clk.Step(50 * time.Millisecond)
	s := e.State()
	if s.Phase != PhaseHalted || s.Running {
		t.Fatalf("state = %+v, want halted", s)
	}
	if s.FailingStep != 1 {
		t.Errorf("failingStep = %d, want 1", s.FailingStep)
	}
	if !errors.Is(s.Err, failure.ErrElementNotFound) {
		t.Errorf("err = %v, want ElementNotFound", s.Err)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0 after halt", clk.Pending())
	}
	for _, c := range exec.Calls() {
		if c == "c:exist" {
			t.Error("step after the failing one must not run")
		}
	}
}

func TestEngine_StructuralFailureHaltsImmediately(t *testing.T) {
	exec := newFakeExec()
	exec.errs["a:exist"] = failure.New(failure.KindUnrecognizedAction, "nope")
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a"))

	clk.Step(50 * time.Millisecond)
	s := e.State()
	if s.Phase != PhaseHalted || s.Attempts != 1 {
		t.Errorf("state = %+v, want halted after one attempt", s)
	}
}

func TestEngine_StopCancelsTimer(t *testing.T) {
	exec := newFakeExec()
	exec.fails["a:exist"] = 1 << 30
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a"))
	clk.Step(100 * time.Millisecond)

	e.Stop()
	n := len(exec.Calls())
	if s := e.State(); s.Phase != PhaseIdle || s.Running || s.Completed {
		t.Errorf("state = %+v, want idle", s)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}

	clk.Step(10 * time.Second)
	if got := len(exec.Calls()); got != n {
		t.Errorf("calls after stop = %d, want %d", got, n)
	}
}

func TestEngine_RestartMakesOldTimersInert(t *testing.T) {
	exec := newFakeExec()
	e, clk := newEngine(exec)
	e.Start(testFile(false, "a"))
	e.Start(testFile(false, "x"))

	clk.Step(time.Second)
	if got := exec.Calls(); len(got) != 1 || got[0] != "x:exist" {
		t.Errorf("calls = %v, want only x", got)
	}
}

func TestEngine_ChecksErrorBannerAfterEveryStepButFirst(t *testing.T) {
	exec := newFakeExec()
	exec.fails["b:notExist"] = 1
	e, clk := newEngine(exec)
	e.Start(testFile(true, "a", "b"))

	clk.Step(time.Second)
	want := []string{"a:exist", "b:exist", "b:notExist", "b:exist", "b:notExist"}
	got := exec.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !e.State().Completed {
		t.Errorf("state = %+v, want completed", e.State())
	}
}

func TestEngine_EmptyFileCompletes(t *testing.T) {
	e, _ := newEngine(newFakeExec())
	e.Start(schema.New("empty", ""))
	if s := e.State(); s.Running || !s.Completed {
		t.Errorf("state = %+v, want completed", s)
	}
}

func TestEngine_ExecuteOnce(t *testing.T) {
	exec := newFakeExec()
	exec.errs["b:exist"] = failure.New(failure.KindAssertionFailed, "no")
	e, _ := newEngine(exec)
	tf := testFile(false, "a", "b")

	if err := e.ExecuteOnce(context.Background(), tf, 0); err != nil {
		t.Fatal(err)
	}
	if s := e.State(); s.Phase != PhaseIdle {
		t.Errorf("state = %+v, want idle", s)
	}

	if err := e.ExecuteOnce(context.Background(), tf, 1); err == nil {
		t.Fatal("expected failure")
	}
	s := e.State()
	if s.Phase != PhaseHalted || s.FailingStep != 1 {
		t.Errorf("state = %+v, want halted at 1", s)
	}
	if got := exec.Calls(); len(got) != 2 {
		t.Errorf("calls = %v, want one attempt each", got)
	}

	e.Start(tf)
	if err := e.ExecuteOnce(context.Background(), tf, 0); !errors.Is(err, ErrRunning) {
		t.Errorf("err = %v, want ErrRunning", err)
	}
}

func TestEngine_SubscribeAndWait(t *testing.T) {
	exec := newFakeExec()
	exec.errs["a:exist"] = failure.New(failure.KindActionContractViolation, "no runStep")
	e, clk := newEngine(exec)

	var mu sync.Mutex
	var phases []Phase
	unsub := e.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	})
	defer unsub()

	e.Start(testFile(false, "a"))
	clk.Step(50 * time.Millisecond)

	s, err := e.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != PhaseHalted {
		t.Errorf("wait state = %+v, want halted", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[0] != PhaseRunning || phases[1] != PhaseHalted {
		t.Errorf("phases = %v, want [running halted]", phases)
	}
}

// blockingExec blocks until its context is canceled.
type blockingExec struct {
	started chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingExec) Execute(ctx context.Context, _ schema.Step) error {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_StopDuringAttemptRealClock(t *testing.T) {
	exec := &blockingExec{started: make(chan struct{})}
	e := New(exec, Config{RetryDelay: time.Millisecond})
	e.Start(testFile(false, "a"))

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("step never started")
	}
	e.Stop()

	if s := e.State(); s.Phase != PhaseIdle {
		t.Errorf("state = %+v, want idle", s)
	}
	time.Sleep(20 * time.Millisecond)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.calls != 1 {
		t.Errorf("calls = %d, want 1", exec.calls)
	}
}

func TestEngine_RealClockRetries(t *testing.T) {
	exec := newFakeExec()
	exec.fails["a:exist"] = 2
	e := New(exec, Config{RetryDelay: time.Millisecond, Timeout: 2 * time.Second})
	e.Start(testFile(false, "a", "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := e.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Completed {
		t.Errorf("state = %+v, want completed", s)
	}
}

// stuckExec ignores its context and blocks until release is closed.
type stuckExec struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stuckExec) Execute(context.Context, schema.Step) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return failure.New(failure.KindElementNotFound, "late")
}

func TestEngine_StopAndStateDoNotWaitForAttempt(t *testing.T) {
	exec := &stuckExec{started: make(chan struct{}), release: make(chan struct{})}
	defer close(exec.release)
	e := New(exec, Config{RetryDelay: time.Millisecond})
	e.Start(testFile(false, "a", "b"))

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("step never started")
	}

	done := make(chan State, 1)
	go func() {
		if s := e.State(); !s.Running || s.Attempts != 1 {
			t.Errorf("state while executing = %+v, want running attempt 1", s)
		}
		e.Stop()
		done <- e.State()
	}()
	select {
	case s := <-done:
		if s.Phase != PhaseIdle || s.Running {
			t.Errorf("state after stop = %+v, want idle", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked while an attempt was executing")
	}
}

func TestEngine_StaleAttemptResultIsDiscarded(t *testing.T) {
	exec := &stuckExec{started: make(chan struct{}), release: make(chan struct{})}
	e := New(exec, Config{RetryDelay: time.Millisecond, Timeout: time.Nanosecond})
	e.Start(testFile(false, "a"))

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("step never started")
	}
	e.Stop()
	close(exec.release)

	// The released attempt fails past its window; it must not halt the
	// stopped engine.
	time.Sleep(50 * time.Millisecond)
	if s := e.State(); s.Phase != PhaseIdle || s.FailingStep != -1 || s.Err != nil {
		t.Errorf("state = %+v, want idle without failure", s)
	}
}
