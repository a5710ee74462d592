package eval

import (
	"testing"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

func TestResolve_Literal(t *testing.T) {
	result, err := Resolve("cy.reload()", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != "cy.reload()" {
		t.Errorf("got %q", result)
	}
}

func TestResolve_StepVars(t *testing.T) {
	step := schema.Step{
		ID:       "s1",
		Action:   "login",
		Selector: `[data-test="it's"]`,
		Args:     map[string]string{"user": "ada"},
	}
	result, err := Resolve("cy.get({{ js .selector }}).type({{ js .args.user }})", StepVars(step))
	if err != nil {
		t.Fatal(err)
	}
	want := `cy.get('[data-test="it\'s"]').type('ada')`
	if result != want {
		t.Errorf("got %q, want %q", result, want)
	}
}

func TestResolve_MissingArgIsEmpty(t *testing.T) {
	result, err := Resolve("[{{ .args.nope }}]", StepVars(schema.Step{}))
	if err != nil {
		t.Fatal(err)
	}
	if result != "[]" {
		t.Errorf("got %q, want []", result)
	}
}

func TestResolve_Default(t *testing.T) {
	result, err := Resolve(`{{ default "GET" .args.method }}`, StepVars(schema.Step{}))
	if err != nil {
		t.Fatal(err)
	}
	if result != "GET" {
		t.Errorf("got %q, want GET", result)
	}
}

func TestResolve_ParseError(t *testing.T) {
	if _, err := Resolve("{{ .x ", nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolveAll(t *testing.T) {
	in := []any{"{{ .selector }}", 3, map[string]any{"k": "{{ .id }}"}}
	out, err := ResolveAll(in, StepVars(schema.Step{ID: "x", Selector: "#a"}))
	if err != nil {
		t.Fatal(err)
	}
	got := out.([]any)
	if got[0] != "#a" || got[1] != 3 || got[2].(map[string]any)["k"] != "x" {
		t.Errorf("got %#v", got)
	}
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		`plain`:      `'plain'`,
		`it's`:       `'it\'s'`,
		`a\b`:        `'a\\b'`,
		"two\nlines": `'two\nlines'`,
	}
	for in, want := range tests {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %s, want %s", in, got, want)
		}
	}
}
