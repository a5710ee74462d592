// Package recorder captures the outcome of every step a run executes, for
// the run report.
package recorder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// StepResult is the last known outcome of one step.
type StepResult struct {
	StepID   string            `yaml:"step_id"`
	Action   string            `yaml:"action"`
	Selector string            `yaml:"selector,omitempty"`
	Args     map[string]string `yaml:"args,omitempty"`
	Attempts int               `yaml:"attempts"`
	Passed   bool              `yaml:"passed"`
	Kind     string            `yaml:"kind,omitempty"`
	Error    string            `yaml:"error,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	Test        string       `yaml:"test"`
	Outcome     string       `yaml:"outcome"` // completed, halted, stopped
	FailingStep int          `yaml:"failing_step"`
	FinishedAt  time.Time    `yaml:"finished_at"`
	Steps       []StepResult `yaml:"steps"`
}

// Recorder wraps an executor and records each execution.
type Recorder struct {
	inner   playback.Executor
	secrets []string // env var names whose values are redacted

	mu      sync.Mutex
	results []StepResult
	index   map[string]int
}

// New creates a recording wrapper around an existing executor.
func New(inner playback.Executor) *Recorder {
	return &Recorder{inner: inner, index: map[string]int{}}
}

// SetSecrets configures env var names whose values are redacted from
// selectors, arguments and errors.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// Execute delegates to the inner executor and records the outcome. Retries
// of a step accumulate on the same result.
func (r *Recorder) Execute(ctx context.Context, step schema.Step) error {
	err := r.inner.Execute(ctx, step)

	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[step.ID]
	if !ok {
		i = len(r.results)
		r.index[step.ID] = i
		r.results = append(r.results, StepResult{
			StepID:   step.ID,
			Action:   step.Action,
			Selector: r.redact(step.Selector),
			Args:     r.redactMap(step.Args),
		})
	}
	res := &r.results[i]
	res.Attempts++
	res.Passed = err == nil
	res.Kind, res.Error = "", ""
	if err != nil {
		res.Kind = string(failure.KindOf(err))
		res.Error = r.redact(err.Error())
	}
	return err
}

// Results returns a copy of the recorded results in first-execution order.
func (r *Recorder) Results() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepResult, len(r.results))
	copy(out, r.results)
	return out
}

// Reset forgets every recorded result.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = nil
	r.index = map[string]int{}
}

// Report builds the report of a run that ended in s.
func (r *Recorder) Report(test string, s playback.State) *Report {
	outcome := "stopped"
	switch {
	case s.Completed:
		outcome = "completed"
	case s.Phase == playback.PhaseHalted:
		outcome = "halted"
	}
	return &Report{
		Test:        test,
		Outcome:     outcome,
		FailingStep: s.FailingStep,
		FinishedAt:  time.Now().UTC(),
		Steps:       r.Results(),
	}
}

// WriteReport saves rep as YAML.
func WriteReport(path string, rep *Report) error {
	data, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		if val := os.Getenv(envVar); val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

func (r *Recorder) redactMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = r.redact(v)
	}
	return out
}
