package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// flaky fails each step the given number of times before passing.
type flaky struct {
	fails map[string]int
}

func (f *flaky) Execute(_ context.Context, step schema.Step) error {
	if f.fails[step.ID] > 0 {
		f.fails[step.ID]--
		return &failure.Error{Kind: failure.KindElementNotFound, StepID: step.ID, Message: "no element"}
	}
	return nil
}

func TestRecorder_CountsAttempts(t *testing.T) {
	rec := New(&flaky{fails: map[string]int{"b": 2}})
	ctx := context.Background()
	a := schema.Step{ID: "a", Action: "click", Selector: "#go"}
	b := schema.Step{ID: "b", Action: "exist", Selector: ".done"}

	if err := rec.Execute(ctx, a); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := rec.Execute(ctx, b); err == nil {
			t.Fatal("expected failure")
		}
	}
	got := rec.Results()
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	if got[1].Attempts != 2 || got[1].Passed || got[1].Kind != string(failure.KindElementNotFound) {
		t.Errorf("b = %+v", got[1])
	}

	if err := rec.Execute(ctx, b); err != nil {
		t.Fatal(err)
	}
	got = rec.Results()
	if got[1].Attempts != 3 || !got[1].Passed || got[1].Error != "" {
		t.Errorf("b after pass = %+v", got[1])
	}
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	t.Setenv("TEST_SECRET_PASSWORD", "supersecret123")
	inner := &flaky{fails: map[string]int{"p": 1}}
	rec := New(inner)
	rec.SetSecrets([]string{"TEST_SECRET_PASSWORD"})

	step := schema.Step{
		ID:       "p",
		Action:   "type",
		Selector: `[value="supersecret123"]`,
		Args:     map[string]string{"value": "supersecret123", "mode": "plain"},
	}
	rec.Execute(context.Background(), step)

	r := rec.Results()[0]
	if r.Args["value"] != "<REDACTED>" {
		t.Errorf("value = %q, want <REDACTED>", r.Args["value"])
	}
	if r.Args["mode"] != "plain" {
		t.Errorf("mode = %q, want plain", r.Args["mode"])
	}
	if strings.Contains(r.Selector, "supersecret123") {
		t.Errorf("selector not redacted: %q", r.Selector)
	}
	if step.Args["value"] != "supersecret123" {
		t.Error("redaction modified the executed step")
	}
}

func TestRecorder_ReportAndWrite(t *testing.T) {
	rec := New(&flaky{})
	rec.Execute(context.Background(), schema.Step{ID: "a", Action: "reload"})

	halted := rec.Report("checkout", playback.State{Phase: playback.PhaseHalted, FailingStep: 1, Err: errors.New("x")})
	if halted.Outcome != "halted" || halted.FailingStep != 1 {
		t.Errorf("report = %+v", halted)
	}
	done := rec.Report("checkout", playback.State{Completed: true, FailingStep: -1})
	if done.Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", done.Outcome)
	}
	if rec.Report("checkout", playback.State{FailingStep: -1}).Outcome != "stopped" {
		t.Error("want stopped outcome")
	}

	path := filepath.Join(t.TempDir(), "report.yaml")
	if err := WriteReport(path, done); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"test: checkout", "outcome: completed", "step_id: a", "attempts: 1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("report missing %q:\n%s", want, data)
		}
	}

	rec.Reset()
	if len(rec.Results()) != 0 {
		t.Error("Reset kept results")
	}
}
