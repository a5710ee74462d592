package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	if err := tw.EmitStepStart(0, "s1", "click"); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if evt.Type != EventStepStart {
		t.Errorf("type = %q, want step_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["step_id"] != "s1" || evt.Data["action"] != "click" {
		t.Errorf("data = %v", evt.Data)
	}
	if evt.PrevHash != genesis {
		t.Errorf("prev_hash = %q, want genesis", evt.PrevHash)
	}
}

func TestWriter_EmitStepComplete_WithFailure(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	err := tw.EmitStepComplete(2, "s3", StatusFailed, 100, 5*time.Second, &Failure{
		Kind: "element_not_found", Message: "No element found matching selector \"#x\"",
	})
	if err != nil {
		t.Fatal(err)
	}

	var evt Event
	json.Unmarshal(buf.Bytes(), &evt)
	if evt.Data["status"] != "failed" {
		t.Errorf("status = %v", evt.Data["status"])
	}
	failure, ok := evt.Data["failure"].(map[string]any)
	if !ok {
		t.Fatal("expected failure object")
	}
	if failure["kind"] != "element_not_found" {
		t.Errorf("failure.kind = %v", failure["kind"])
	}
}

func TestWriter_ChainVerifies(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitRunStart("login", 2, true)
	tw.EmitStepStart(0, "s1", "reset")
	tw.EmitStepComplete(0, "s1", StatusSuccess, 1, time.Millisecond, nil)
	tw.EmitRunComplete(time.Second)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(lines))
	}

	res, err := Verify(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EventCount != 4 || res.BrokenAt != -1 {
		t.Errorf("result = %+v, want valid chain of 4", res)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepStart(0, "s1", "click")
	tw.EmitStepComplete(0, "s1", StatusSuccess, 1, time.Millisecond, nil)
	tw.EmitRunComplete(time.Second)

	tampered := strings.Replace(buf.String(), `"action":"click"`, `"action":"type"`, 1)
	res, err := Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt != 2 {
		t.Errorf("result = %+v, want break at event 2", res)
	}
}

func TestVerify_InterleavedRuns(t *testing.T) {
	var buf bytes.Buffer
	a := NewWriter(&buf, "a")
	b := NewWriter(&buf, "b")
	a.EmitRunStart("x", 1, false)
	b.EmitRunStart("y", 1, false)
	a.EmitRunComplete(time.Second)
	b.EmitRunStopped(0)

	res, err := Verify(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("result = %+v, want valid", res)
	}
}
