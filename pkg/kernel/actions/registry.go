// Package actions holds the action registry: for each action name, how a
// step is rendered as test-runner code and how it is applied to a live
// document.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
)

// ErrNotFound is returned by Lookup for an unregistered action.
var ErrNotFound = errors.New("action not registered")

// Option is one choice of a select-typed parameter.
type Option struct {
	Key   string `yaml:"key"   json:"key"`
	Label string `yaml:"label" json:"label"`
}

// Param describes one named step argument.
type Param struct {
	Key          string   `yaml:"key"                    json:"key"`
	Type         string   `yaml:"type,omitempty"         json:"type,omitempty"` // string | select
	Label        string   `yaml:"label"                  json:"label"`
	DefaultValue string   `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Options      []Option `yaml:"options,omitempty"      json:"options,omitempty"`
}

// Default returns the value a new step starts with: DefaultValue, else the
// first option of a select, else empty.
func (p Param) Default() string {
	if p.DefaultValue != "" {
		return p.DefaultValue
	}
	if len(p.Options) > 0 {
		return p.Options[0].Key
	}
	return ""
}

// Config is the environment actions generate code for and run in.
type Config struct {
	BaseURL         string
	DefaultPathname string
	// OriginHost restricts visit() calls. Empty means the BaseURL host.
	OriginHost string
	// ReservedStoragePrefix marks storage keys reset leaves alone.
	ReservedStoragePrefix string
	ErrorBannerSelector   string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:3000",
		DefaultPathname:       "/",
		ReservedStoragePrefix: "test:",
		ErrorBannerSelector:   ".alert-danger",
	}
}

// StartURL resolves DefaultPathname against BaseURL.
func (c Config) StartURL() (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(c.DefaultPathname)
	if err != nil {
		return "", fmt.Errorf("parse default pathname: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c Config) originHost() string {
	if c.OriginHost != "" {
		return c.OriginHost
	}
	if u, err := url.Parse(c.BaseURL); err == nil {
		return u.Host
	}
	return ""
}

// Env is what a running step may touch.
type Env struct {
	Doc    dom.Document
	XHR    *xhr.Queue
	Config Config
}

// Call is one primitive operation against the test-runner surface,
// optionally followed by calls chained off its result.
type Call struct {
	Method string `yaml:"method"          json:"method"`
	Args   []any  `yaml:"args,omitempty"  json:"args"`
	Chain  []Call `yaml:"chain,omitempty" json:"chain,omitempty"`
}

// Descriptor defines one action.
//
// RunStep applies a step directly. An action may instead provide PlanCalls,
// whose calls are replayed against the document; this is how remote and
// configured actions run.
type Descriptor struct {
	Action            string  `json:"action"`
	Label             string  `json:"label"`
	Params            []Param `json:"params"`
	HideSelectorInput bool    `json:"hideSelectorInput,omitempty"`

	GenerateCode func(ctx context.Context, step schema.Step) (string, error) `json:"-"`
	RunStep      func(ctx context.Context, step schema.Step, env *Env) error `json:"-"`
	PlanCalls    func(ctx context.Context, step schema.Step) ([]Call, error) `json:"-"`
}

// Runnable reports whether the action can be applied to a document.
func (d *Descriptor) Runnable() bool {
	return d.RunStep != nil || d.PlanCalls != nil
}

// Registry maps action names to descriptors, in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: map[string]*Descriptor{}}
}

// NewBuiltinRegistry returns a registry holding the builtin actions for cfg.
func NewBuiltinRegistry(cfg Config) *Registry {
	r := NewRegistry()
	for _, d := range Builtins(cfg) {
		if err := r.Register(d); err != nil {
			panic(err) // builtin names are distinct
		}
	}
	return r
}

// Register adds a descriptor. Registering a name twice is an error.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Action == "" {
		return fmt.Errorf("register action: descriptor has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[d.Action]; ok {
		return fmt.Errorf("register action: %q already registered", d.Action)
	}
	r.byKey[d.Action] = d
	r.order = append(r.order, d.Action)
	return nil
}

// Replace adds or overwrites a descriptor, keeping its original position.
func (r *Registry) Replace(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[d.Action]; !ok {
		r.order = append(r.order, d.Action)
	}
	r.byKey[d.Action] = d
}

// Lookup returns the descriptor for name, or ErrNotFound.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byKey[name])
	}
	return out
}

// DefaultArgs returns the starting arguments for a new step of the action.
// Every declared param gets an entry.
func (r *Registry) DefaultArgs(name string) map[string]string {
	args := map[string]string{}
	d, err := r.Lookup(name)
	if err != nil {
		return args
	}
	for _, p := range d.Params {
		args[p.Key] = p.Default()
	}
	return args
}

// GenerateCode renders a step as test-runner code. A step comment becomes a
// leading line comment.
func (r *Registry) GenerateCode(ctx context.Context, step schema.Step) (string, error) {
	d, err := r.Lookup(step.Action)
	if err != nil {
		return "", &failure.Error{
			Kind:    failure.KindUnrecognizedAction,
			StepID:  step.ID,
			Action:  step.Action,
			Message: "Unrecognized action specified by step: " + step.Action,
		}
	}
	if d.GenerateCode == nil {
		return "", &failure.Error{
			Kind:    failure.KindActionContractViolation,
			StepID:  step.ID,
			Action:  step.Action,
			Message: fmt.Sprintf("Action '%s' does not implement .generateCode()", step.Action),
		}
	}
	code, err := d.GenerateCode(ctx, step)
	if err != nil {
		return "", &failure.Error{
			Kind:    failure.KindCodeGenerationFailed,
			StepID:  step.ID,
			Action:  step.Action,
			Message: "generate code",
			Err:     err,
		}
	}
	if step.Comment == "" {
		return code, nil
	}
	var b strings.Builder
	for _, line := range strings.Split(step.Comment, "\n") {
		b.WriteString("// ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(code)
	return b.String(), nil
}
