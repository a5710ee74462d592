// Package trace writes the append-only JSONL audit trail of a playback run.
//
// Every event carries the SHA-256 of the previous line, so a trace that was
// edited after the fact fails Verify.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventRunHalted    EventType = "run_halted"
	EventRunStopped   EventType = "run_stopped"
	EventStepStart    EventType = "step_start"
	EventStepRetry    EventType = "step_retry"
	EventStepComplete EventType = "step_complete"
)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step failed.
type Failure struct {
	Kind    string `json:"kind"` // element_not_found, assertion_failed, ...
	Message string `json:"message"`
}

var genesis = strings.Repeat("0", 64)

// Writer writes trace events to an append-only JSONL stream.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	now      func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesis, now: time.Now}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the run identifier stamped on every event.
func (tw *Writer) RunID() string { return tw.runID }

// Close closes the underlying file, if the writer opened one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	h := sha256.Sum256(line)
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	tw.prevHash = hex.EncodeToString(h[:])
	return nil
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(testName string, steps int, checksErrors bool) error {
	return tw.Emit(EventRunStart, map[string]any{
		"test":                       testName,
		"steps":                      steps,
		"checksErrorsAfterEveryStep": checksErrors,
	})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(index int, stepID, action string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"index":   index,
		"step_id": stepID,
		"action":  action,
	})
}

// EmitStepRetry emits a step_retry event for a failed attempt that will be
// retried.
func (tw *Writer) EmitStepRetry(index int, stepID string, attempt int, failure *Failure) error {
	data := map[string]any{
		"index":   index,
		"step_id": stepID,
		"attempt": attempt,
	}
	if failure != nil {
		data["failure"] = failure
	}
	return tw.Emit(EventStepRetry, data)
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(index int, stepID string, status StepStatus, attempts int, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"index":    index,
		"step_id":  stepID,
		"status":   string(status),
		"attempts": attempts,
		"duration": duration.String(),
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(duration time.Duration) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"status":   "completed",
		"duration": duration.String(),
	})
}

// EmitRunHalted emits a run_halted event.
func (tw *Writer) EmitRunHalted(failingStep int, failure *Failure) error {
	data := map[string]any{"failing_step": failingStep}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventRunHalted, data)
}

// EmitRunStopped emits a run_stopped event.
func (tw *Writer) EmitRunStopped(stepNumber int) error {
	return tw.Emit(EventRunStopped, map[string]any{"step_number": stepNumber})
}
