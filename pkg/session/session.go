// Package session is the interactive recorder: it owns the test file being
// edited, the step awaiting confirmation, and the playback engine that
// replays the file against the live document.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/executor"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/resolve"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

// Mode says whether clicks reach the document or record steps.
type Mode string

const (
	ModeNavigation Mode = "navigation"
	ModePointer    Mode = "pointer"
)

// Defaults for a freshly created file.
const (
	DefaultName        = "untitled.spec.js"
	DefaultDescription = "should work"
)

var (
	// ErrNoFile is returned by operations that need an open test file.
	ErrNoFile = errors.New("no test file open")
	// ErrNoPending is returned by Confirm when no step awaits confirmation.
	ErrNoPending = errors.New("no pending step")
	// ErrNoStore is returned by Open and Save without a configured store.
	ErrNoStore = errors.New("no template store configured")
	// ErrNavigationMode is returned by Click while clicks navigate.
	ErrNavigationMode = errors.New("session is in navigation mode")
)

// Options configures a Session. Registry and Env are required.
type Options struct {
	Registry *actions.Registry
	Env      *actions.Env
	Engine   playback.Config
	Resolver *resolve.Resolver
	Store    store.Store
	Codec    codec.Options
	// TrackLocation inserts a location assertion ahead of an appended step
	// when the document moved since the last one.
	TrackLocation bool
	// OnMode is called after every mode change, outside the session lock.
	OnMode func(Mode)
	Logger *zap.Logger
}

// Session is safe for concurrent use. Engine listeners may call State but
// not the mutating methods.
type Session struct {
	registry *actions.Registry
	env      *actions.Env
	exec     *executor.Executor
	engine   *playback.Engine
	resolver *resolve.Resolver
	store    store.Store
	codec    codec.Options
	track    bool
	onMode   func(Mode)
	logger   *zap.Logger

	mu      sync.Mutex
	file    *schema.TestFile
	pending *schema.Step
	mode    Mode
}

// New wires a session around its collaborators.
func New(opts Options) (*Session, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("session: registry is required")
	}
	if opts.Env == nil || opts.Env.Doc == nil {
		return nil, fmt.Errorf("session: document is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = resolve.New()
	}
	exec := executor.New(opts.Registry, opts.Env, opts.Logger.Named("executor"))
	engCfg := opts.Engine
	if engCfg.Logger == nil {
		engCfg.Logger = opts.Logger.Named("playback")
	}
	return &Session{
		registry: opts.Registry,
		env:      opts.Env,
		exec:     exec,
		engine:   playback.New(exec, engCfg),
		resolver: opts.Resolver,
		store:    opts.Store,
		codec:    opts.Codec,
		track:    opts.TrackLocation,
		onMode:   opts.OnMode,
		logger:   opts.Logger,
		mode:     ModeNavigation,
	}, nil
}

// Engine returns the playback engine.
func (s *Session) Engine() *playback.Engine { return s.engine }

// Registry returns the action registry.
func (s *Session) Registry() *actions.Registry { return s.registry }

// Env returns the document environment.
func (s *Session) Env() *actions.Env { return s.env }

// ---------------------------------------------------------------------------
// File lifecycle
// ---------------------------------------------------------------------------

// NewFile starts an empty file and resets the document. The file is open
// even when the reset fails; the error is returned for display.
func (s *Session) NewFile(ctx context.Context) error {
	s.engine.Stop()
	s.mu.Lock()
	tf := schema.New(DefaultName, DefaultDescription)
	tf.ChecksErrorsAfterEveryStep = true
	s.file = tf
	s.pending = nil
	s.mode = ModePointer
	s.mu.Unlock()
	s.modeChanged(ModePointer)

	s.logger.Info("new test file")
	return s.exec.Execute(ctx, schema.Step{
		ID:         schema.NewStepID(),
		Action:     "reset",
		SelectType: schema.SelectNone,
		Args:       map[string]string{},
	})
}

// Open seeds a new file from a stored template. Step ids are regenerated.
func (s *Session) Open(ctx context.Context, name string) error {
	if s.store == nil {
		return ErrNoStore
	}
	tf, err := s.store.Load(ctx, name)
	if err != nil {
		return err
	}
	tf.RegenerateIDs()
	s.load(tf)
	s.logger.Info("opened template", zap.String("name", name), zap.Int("steps", tf.Len()))
	return nil
}

// Import opens a previously exported script.
func (s *Session) Import(script string) error {
	tf, err := codec.Decode(script)
	if err != nil {
		return err
	}
	s.load(tf)
	return nil
}

// Load opens tf as the current file.
func (s *Session) Load(tf *schema.TestFile) {
	s.load(tf.Clone())
}

func (s *Session) load(tf *schema.TestFile) {
	s.engine.Stop()
	s.mu.Lock()
	if tf.Steps == nil {
		tf.Steps = []schema.Step{}
	}
	s.file = tf
	s.pending = nil
	s.mode = ModePointer
	s.mu.Unlock()
	s.modeChanged(ModePointer)
}

// File returns a copy of the open file, or nil.
func (s *Session) File() *schema.TestFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Clone()
}

// SetMeta edits the file's name, description and error checking flag.
func (s *Session) SetMeta(name, description string, checksErrors bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrNoFile
	}
	s.file.Name = name
	s.file.Description = description
	s.file.ChecksErrorsAfterEveryStep = checksErrors
	return nil
}

// Save stores the file as a template, then discards it.
func (s *Session) Save(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	tf := s.File()
	if tf == nil {
		return ErrNoFile
	}
	if err := s.store.Save(ctx, tf); err != nil {
		return err
	}
	s.logger.Info("saved template", zap.String("name", tf.Name))
	s.Reset()
	return nil
}

// Export renders the file as a script, then discards it. On failure the
// file stays open.
func (s *Session) Export(ctx context.Context) (string, error) {
	tf := s.File()
	if tf == nil {
		return "", ErrNoFile
	}
	script, err := codec.Encode(ctx, tf, s.registry, s.codec)
	if err != nil {
		return "", err
	}
	s.Reset()
	return script, nil
}

// Reset stops playback and discards the file and pending step.
func (s *Session) Reset() {
	s.engine.Stop()
	s.mu.Lock()
	s.file = nil
	s.pending = nil
	s.mode = ModeNavigation
	s.mu.Unlock()
	s.modeChanged(ModeNavigation)
}

// Mode returns the click mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches between navigation and pointer mode.
func (s *Session) SetMode(m Mode) error {
	if m != ModeNavigation && m != ModePointer {
		return fmt.Errorf("unknown mode %q", m)
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.modeChanged(m)
	return nil
}

func (s *Session) modeChanged(m Mode) {
	if s.onMode != nil {
		s.onMode(m)
	}
}

// ---------------------------------------------------------------------------
// Pending step
// ---------------------------------------------------------------------------

// ClickResult is the pending step a click produced.
type ClickResult struct {
	Step    schema.Step
	Element dom.Element
	Matches int
	// Warning is an AmbiguousMatch failure when the selector matches more
	// than one element.
	Warning error
}

// Click resolves a pointer-mode click into the pending step. The pending
// step keeps its id and comment, so clicking while editing retargets the
// step. When nothing is near the point the pending step is left untouched
// and the result is nil.
func (s *Session) Click(ctx context.Context, p dom.Point) (*ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, ErrNoFile
	}
	if s.mode != ModePointer {
		return nil, ErrNavigationMode
	}

	desc, err := s.resolver.ResolveClick(ctx, p, s.env.Doc)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, nil
	}

	step := schema.Step{
		ID:         schema.NewStepID(),
		Action:     desc.Action,
		SelectType: desc.SelectType,
		Selector:   desc.Selector,
		Args:       s.registry.DefaultArgs(desc.Action),
	}
	if s.pending != nil {
		step.ID = s.pending.ID
		step.Comment = s.pending.Comment
	}
	s.pending = &step

	res := &ClickResult{Step: step.Clone(), Element: desc.Element, Matches: desc.Matches}
	if desc.Ambiguous() {
		res.Warning = ambiguity(desc.Matches)
	}
	s.logger.Debug("click resolved",
		zap.String("action", step.Action),
		zap.String("selector", step.Selector),
		zap.Int("matches", desc.Matches))
	return res, nil
}

func ambiguity(n int) error {
	return failure.New(failure.KindAmbiguousMatch, "Your selector is currently matching %d elements.", n)
}

// SetPending replaces the pending step. A missing id is assigned and every
// declared parameter of the action without a value gets its default.
func (s *Session) SetPending(step schema.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrNoFile
	}
	step = step.Clone()
	if step.ID == "" {
		step.ID = schema.NewStepID()
	}
	if step.SelectType == "" {
		step.SelectType = schema.SelectBySelector
	}
	if step.Args == nil {
		step.Args = map[string]string{}
	}
	for k, v := range s.registry.DefaultArgs(step.Action) {
		if _, ok := step.Args[k]; !ok {
			step.Args[k] = v
		}
	}
	s.pending = &step
	return nil
}

// Edit makes a copy of the stored step with id the pending step.
func (s *Session) Edit(id string) (schema.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return schema.Step{}, ErrNoFile
	}
	step, ok := s.file.Step(id)
	if !ok {
		return schema.Step{}, fmt.Errorf("step %s not found", id)
	}
	s.pending = &step
	return step.Clone(), nil
}

// Pending returns the step awaiting confirmation.
func (s *Session) Pending() (schema.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return schema.Step{}, false
	}
	return s.pending.Clone(), true
}

// Discard drops the pending step.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// ConfirmResult reports what Confirm changed.
type ConfirmResult struct {
	// Updated is set when the pending step replaced a stored one.
	Updated bool
	// Added lists appended steps, including an inserted location step.
	Added []schema.Step
	// Replayed is set when the new step was executed against the document.
	Replayed bool
	// ReplayErr is the failure of that execution; the engine is halted on
	// the step.
	ReplayErr error
}

// Confirm commits the pending step. A step whose id is already in the file
// replaces it. Otherwise the step is appended; when the file already had
// steps and no run is in progress, the new step is executed once.
func (s *Session) Confirm(ctx context.Context) (*ConfirmResult, error) {
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return nil, ErrNoFile
	}
	if s.pending == nil {
		s.mu.Unlock()
		return nil, ErrNoPending
	}
	step := *s.pending

	if s.file.IndexOf(step.ID) >= 0 {
		err := s.file.Update(step)
		if err == nil {
			s.pending = nil
		}
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Updated: true}, nil
	}

	wasEmpty := s.file.Len() == 0
	added := []schema.Step{}
	if s.track {
		if loc, ok := s.locationStep(ctx); ok {
			added = append(added, loc)
		}
	}
	added = append(added, step)
	for _, a := range added {
		if _, err := s.file.Append(a); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.pending = nil
	snapshot := s.file.Clone()
	s.mu.Unlock()

	res := &ConfirmResult{Added: added}
	if wasEmpty {
		return res, nil
	}
	err := s.engine.ExecuteOnce(ctx, snapshot, snapshot.Len()-1)
	switch {
	case errors.Is(err, playback.ErrRunning):
		// The run in progress will reach the step.
	default:
		res.Replayed = true
		res.ReplayErr = err
	}
	return res, nil
}

// locationStep returns a pathname assertion for the document's current
// location when it differs from the file's last location step.
func (s *Session) locationStep(ctx context.Context) (schema.Step, bool) {
	loc, err := s.env.Doc.Location(ctx)
	if err != nil {
		s.logger.Debug("read location", zap.Error(err))
		return schema.Step{}, false
	}
	for i := s.file.Len() - 1; i >= 0; i-- {
		if st := s.file.Steps[i]; st.Action == "location" {
			if st.Selector == loc.Pathname {
				return schema.Step{}, false
			}
			break
		}
	}
	return schema.Step{
		ID:         schema.NewStepID(),
		Action:     "location",
		SelectType: schema.SelectNone,
		Selector:   loc.Pathname,
		Args: map[string]string{
			actions.ArgLocationProperty:  "pathname",
			actions.ArgLocationMatchType: actions.MatchExact,
		},
	}, true
}

// ---------------------------------------------------------------------------
// Sequence edits
// ---------------------------------------------------------------------------

func (s *Session) edit(fn func(tf *schema.TestFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrNoFile
	}
	return fn(s.file)
}

// Update replaces the stored step carrying step's id.
func (s *Session) Update(step schema.Step) error {
	return s.edit(func(tf *schema.TestFile) error { return tf.Update(step) })
}

// Delete removes a step. A pending edit of it is dropped too.
func (s *Session) Delete(id string) error {
	return s.edit(func(tf *schema.TestFile) error {
		if err := tf.Delete(id); err != nil {
			return err
		}
		if s.pending != nil && s.pending.ID == id {
			s.pending = nil
		}
		return nil
	})
}

// MoveUp swaps a step with its predecessor.
func (s *Session) MoveUp(id string) error {
	return s.edit(func(tf *schema.TestFile) error { return tf.MoveUp(id) })
}

// MoveDown swaps a step with its successor.
func (s *Session) MoveDown(id string) error {
	return s.edit(func(tf *schema.TestFile) error { return tf.MoveDown(id) })
}

// ---------------------------------------------------------------------------
// Playback
// ---------------------------------------------------------------------------

// Run plays the whole file from the first step.
func (s *Session) Run() error {
	tf := s.File()
	if tf == nil {
		return ErrNoFile
	}
	s.engine.Start(tf)
	return nil
}

// RunStep executes one stored step once.
func (s *Session) RunStep(ctx context.Context, id string) error {
	tf := s.File()
	if tf == nil {
		return ErrNoFile
	}
	i := tf.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("step %s not found", id)
	}
	return s.engine.ExecuteOnce(ctx, tf, i)
}

// Stop cancels playback.
func (s *Session) Stop() { s.engine.Stop() }

// State returns the playback state.
func (s *Session) State() playback.State { return s.engine.State() }

// MatchCount returns how many elements step's selector matches now.
func (s *Session) MatchCount(ctx context.Context, step schema.Step) (int, error) {
	if step.Selector == "" {
		return 0, nil
	}
	els, err := dom.Find(ctx, s.env.Doc, step.ByContent(), step.Selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// Preview renders step's code. A generation failure is rendered as line
// comments.
func (s *Session) Preview(ctx context.Context, step schema.Step) string {
	code, err := s.registry.GenerateCode(ctx, step)
	if err != nil {
		lines := strings.Split(err.Error(), "\n")
		for i, l := range lines {
			lines[i] = "// " + l
		}
		return strings.Join(lines, "\n")
	}
	return code
}
