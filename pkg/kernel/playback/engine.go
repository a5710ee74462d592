// Package playback runs a test file end to end: each step is retried on a
// single-slot timer until it passes or its retry window closes.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/kernel/trace"
)

// ErrRunning is returned when a single-step execution is requested while a
// run is in progress.
var ErrRunning = errors.New("playback is running")

// Executor applies one step.
type Executor interface {
	Execute(ctx context.Context, step schema.Step) error
}

// Clock is the time source and timer factory of an Engine.
type Clock interface {
	clock.PassiveClock
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// Phase is the coarse state of the engine.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseHalted  Phase = "halted"
)

// State is a snapshot of the run.
type State struct {
	Phase      Phase     `json:"phase"`
	Running    bool      `json:"running"`
	StepNumber int       `json:"stepNumber"`
	StepTime   time.Time `json:"stepTime"`
	// FailingStep is the index the run halted on, or -1.
	FailingStep int   `json:"failingStep"`
	Err         error `json:"-"`
	// Attempts counts executions of the current step.
	Attempts  int  `json:"attempts"`
	Total     int  `json:"total"`
	Completed bool `json:"completed"`
}

// ErrMessage returns the failure message, or "".
func (s State) ErrMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func idleState() State {
	return State{Phase: PhaseIdle, FailingStep: -1}
}

// Config tunes an Engine. Zero durations take the defaults.
type Config struct {
	// Timeout is the retry window of one step.
	Timeout time.Duration
	// RetryDelay separates attempts of a failing step, and precedes the
	// first attempt of a run.
	RetryDelay time.Duration
	// AdvanceDelay precedes the next step after a success.
	AdvanceDelay time.Duration
	// ErrorBannerSelector is asserted absent after every step but the
	// first when a file checks errors after every step.
	ErrorBannerSelector string

	Clock  Clock
	Trace  *trace.Writer
	Logger *zap.Logger
}

const (
	DefaultTimeout             = 5 * time.Second
	DefaultRetryDelay          = 50 * time.Millisecond
	DefaultErrorBannerSelector = ".alert-danger"
)

// Engine drives playback. All transitions happen with mu held; at most one
// timer is outstanding, and timers or attempts from an earlier generation
// are inert. Executors run without mu.
type Engine struct {
	exec   Executor
	cfg    Config
	clock  Clock
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	steps    []schema.Step
	checks   bool
	gen      uint64
	timer    clock.Timer
	ctx      context.Context
	done     chan struct{}
	runStart time.Time

	seq uint64

	// cancelMu guards cancel. mu is never acquired while cancelMu is held.
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// notifyMu serializes listener calls; snapshots older than the last
	// delivered one are dropped.
	notifyMu  sync.Mutex
	delivered uint64
	listeners map[int]func(State)
	nextID    int
}

// New returns an idle Engine.
func New(exec Executor, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.AdvanceDelay < 0 {
		cfg.AdvanceDelay = 0
	}
	if cfg.ErrorBannerSelector == "" {
		cfg.ErrorBannerSelector = DefaultErrorBannerSelector
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &Engine{
		exec:      exec,
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		state:     idleState(),
		done:      done,
		listeners: map[int]func(State){},
	}
}

// Subscribe registers fn to receive state transitions. A listener may read
// State but must not call Start, Stop or ExecuteOnce synchronously. The
// returned func unsubscribes.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.notifyMu.Lock()
		defer e.notifyMu.Unlock()
		delete(e.listeners, id)
	}
}

// State returns the current snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins playing tf from its first step, replacing any run in
// progress. The steps are copied; later edits to tf do not affect the run.
func (e *Engine) Start(tf *schema.TestFile) {
	e.cancelRun()
	e.mu.Lock()
	e.cancelLocked()

	e.gen++
	e.steps = tf.Clone().Steps
	e.checks = tf.ChecksErrorsAfterEveryStep
	ctx, cancel := context.WithCancel(context.Background())
	e.ctx = ctx
	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()
	e.done = make(chan struct{})
	now := e.clock.Now()
	e.runStart = now
	e.state = State{
		Phase:       PhaseRunning,
		Running:     true,
		StepTime:    now,
		FailingStep: -1,
		Total:       len(e.steps),
	}
	e.emit(func(tw *trace.Writer) error {
		return tw.EmitRunStart(tf.Name, len(e.steps), e.checks)
	})
	e.logger.Info("playback started", zap.String("test", tf.Name), zap.Int("steps", len(e.steps)))

	if len(e.steps) == 0 {
		e.finishLocked(idleState())
		e.state.Completed = true
	} else {
		e.scheduleLocked(e.cfg.RetryDelay)
	}
	e.unlockAndNotify()
}

// Stop cancels the run. When Stop returns the pending timer is cleared, no
// further step execution will begin, and the result of an attempt still in
// flight is discarded. Stop does not wait for that attempt.
func (e *Engine) Stop() {
	e.cancelRun()
	e.mu.Lock()
	if e.state.Phase == PhaseIdle && e.timer == nil {
		e.mu.Unlock()
		return
	}
	step := e.state.StepNumber
	wasRunning := e.state.Running
	e.cancelLocked()
	e.gen++
	e.state = idleState()
	if wasRunning {
		e.emit(func(tw *trace.Writer) error { return tw.EmitRunStopped(step) })
		e.logger.Info("playback stopped", zap.Int("step", step))
	}
	e.unlockAndNotify()
}

// Wait blocks until the current run completes, halts or is stopped, and
// returns the resulting state.
func (e *Engine) Wait(ctx context.Context) (State, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	select {
	case <-done:
		return e.State(), nil
	case <-ctx.Done():
		return e.State(), ctx.Err()
	}
}

// ExecuteOnce runs the step at index of tf once, with no retry. It is used
// after a step is appended to a file that already had steps, on the
// assumption that the document reflects every earlier step. A failure halts
// the engine on index.
func (e *Engine) ExecuteOnce(ctx context.Context, tf *schema.TestFile, index int) error {
	e.mu.Lock()
	if e.state.Running {
		e.mu.Unlock()
		return ErrRunning
	}
	if index < 0 || index >= tf.Len() {
		e.mu.Unlock()
		return fmt.Errorf("no step at index %d", index)
	}
	e.gen++
	gen := e.gen
	step := tf.Steps[index].Clone()
	e.mu.Unlock()

	err := e.exec.Execute(ctx, step)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return err
	}
	if err != nil {
		e.state = State{
			Phase:       PhaseHalted,
			FailingStep: index,
			StepNumber:  index,
			Err:         err,
			Attempts:    1,
			Total:       tf.Len(),
		}
		e.logger.Debug("single step failed", zap.Int("index", index), zap.Error(err))
	} else {
		e.state = idleState()
	}
	e.unlockAndNotify()
	return err
}

// ---------------------------------------------------------------------------
// Internals (mu held unless noted)
// ---------------------------------------------------------------------------

func (e *Engine) scheduleLocked(d time.Duration) {
	gen := e.gen
	e.timer = e.clock.AfterFunc(d, func() { e.tick(gen) })
}

func (e *Engine) cancelLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.cancelRun()
	e.closeDoneLocked()
}

// cancelRun cancels the context of the current run. Safe without mu.
func (e *Engine) cancelRun() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) closeDoneLocked() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *Engine) finishLocked(s State) {
	e.cancelLocked()
	e.state = s
}

// tick performs one attempt of the current step. The attempt runs without
// mu; its result is dropped if the run was stopped or restarted meanwhile.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state.Phase != PhaseRunning || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	ctx := e.ctx
	i := e.state.StepNumber
	step := e.steps[i]
	checks := e.checks
	if e.state.Attempts == 0 {
		e.emit(func(tw *trace.Writer) error { return tw.EmitStepStart(i, step.ID, step.Action) })
	}
	e.state.Attempts++
	e.mu.Unlock()

	err := e.attempt(ctx, i, step, checks)

	e.mu.Lock()
	if gen != e.gen || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	elapsed := now.Sub(e.state.StepTime)
	switch {
	case err != nil && failure.Retryable(err) && elapsed < e.cfg.Timeout:
		e.emit(func(tw *trace.Writer) error {
			return tw.EmitStepRetry(i, step.ID, e.state.Attempts, traceFailure(err))
		})
		e.scheduleLocked(e.cfg.RetryDelay)

	case err != nil:
		attempts := e.state.Attempts
		e.emit(func(tw *trace.Writer) error {
			return tw.EmitStepComplete(i, step.ID, trace.StatusFailed, attempts, elapsed, traceFailure(err))
		})
		e.emit(func(tw *trace.Writer) error { return tw.EmitRunHalted(i, traceFailure(err)) })
		e.logger.Warn("playback halted", zap.Int("step", i), zap.String("action", step.Action), zap.Error(err))
		e.finishLocked(State{
			Phase:       PhaseHalted,
			StepNumber:  i,
			StepTime:    e.state.StepTime,
			FailingStep: i,
			Err:         err,
			Attempts:    attempts,
			Total:       len(e.steps),
		})

	case i == len(e.steps)-1:
		attempts := e.state.Attempts
		e.emit(func(tw *trace.Writer) error {
			return tw.EmitStepComplete(i, step.ID, trace.StatusSuccess, attempts, elapsed, nil)
		})
		e.emit(func(tw *trace.Writer) error { return tw.EmitRunComplete(now.Sub(e.runStart)) })
		e.logger.Info("playback completed", zap.Int("steps", len(e.steps)))
		s := idleState()
		s.Completed = true
		s.Total = len(e.steps)
		e.finishLocked(s)

	default:
		attempts := e.state.Attempts
		e.emit(func(tw *trace.Writer) error {
			return tw.EmitStepComplete(i, step.ID, trace.StatusSuccess, attempts, elapsed, nil)
		})
		e.state.StepNumber++
		e.state.StepTime = now
		e.state.Attempts = 0
		e.scheduleLocked(e.cfg.AdvanceDelay)
	}
	e.unlockAndNotify()
}

// attempt executes the step and, when the file checks errors after every
// step, the implicit error banner assertion.
func (e *Engine) attempt(ctx context.Context, i int, step schema.Step, checks bool) error {
	if err := e.exec.Execute(ctx, step); err != nil {
		return err
	}
	if !checks || i == 0 {
		return nil
	}
	return e.exec.Execute(ctx, schema.Step{
		ID:         step.ID,
		Action:     "notExist",
		SelectType: schema.SelectBySelector,
		Selector:   e.cfg.ErrorBannerSelector,
	})
}

func (e *Engine) emit(fn func(tw *trace.Writer) error) {
	if e.cfg.Trace == nil {
		return
	}
	if err := fn(e.cfg.Trace); err != nil {
		e.logger.Warn("trace write failed", zap.Error(err))
	}
}

// unlockAndNotify releases mu and delivers the current state to listeners.
func (e *Engine) unlockAndNotify() {
	e.seq++
	s, seq := e.state, e.seq
	e.mu.Unlock()

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if seq <= e.delivered {
		return
	}
	e.delivered = seq
	for _, fn := range e.listeners {
		fn(s)
	}
}

func traceFailure(err error) *trace.Failure {
	kind := string(failure.KindOf(err))
	if kind == "" {
		kind = "error"
	}
	return &trace.Failure{Kind: kind, Message: err.Error()}
}
