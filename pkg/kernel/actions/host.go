package actions

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/stepwise/pkg/kernel/eval"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// HostAction is an action declared in project configuration. Code and
// every string argument of Calls are templates rendered against the step
// (.id, .selector, .comment, .args.<key>).
type HostAction struct {
	Action            string  `yaml:"action"                      json:"action"`
	Label             string  `yaml:"label"                       json:"label"`
	Params            []Param `yaml:"params,omitempty"            json:"params,omitempty"`
	HideSelectorInput bool    `yaml:"hideSelectorInput,omitempty" json:"hideSelectorInput,omitempty"`
	Code              string  `yaml:"code"                        json:"code"`
	Calls             []Call  `yaml:"calls,omitempty"             json:"calls,omitempty"`
}

// Descriptor turns the declaration into a registry descriptor. An action
// without calls can generate code but not run.
func (h HostAction) Descriptor() (*Descriptor, error) {
	if h.Action == "" {
		return nil, fmt.Errorf("host action: missing action name")
	}
	if err := eval.Check(h.Code); err != nil {
		return nil, fmt.Errorf("host action %s: code: %w", h.Action, err)
	}

	d := &Descriptor{
		Action:            h.Action,
		Label:             h.Label,
		Params:            h.Params,
		HideSelectorInput: h.HideSelectorInput,
	}
	if h.Code != "" {
		d.GenerateCode = func(_ context.Context, step schema.Step) (string, error) {
			return eval.Resolve(h.Code, eval.StepVars(step))
		}
	}
	if len(h.Calls) > 0 {
		d.PlanCalls = func(_ context.Context, step schema.Step) ([]Call, error) {
			calls, err := renderCalls(h.Calls, eval.StepVars(step))
			if err != nil {
				return nil, failure.Wrap(failure.KindActionContractViolation, err, "render calls of "+h.Action)
			}
			return calls, nil
		}
	}
	return d, nil
}

// RegisterHostActions adds each declaration to r.
func RegisterHostActions(r *Registry, hosts []HostAction) error {
	for _, h := range hosts {
		d, err := h.Descriptor()
		if err != nil {
			return err
		}
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func renderCalls(calls []Call, vars map[string]any) ([]Call, error) {
	out := make([]Call, len(calls))
	for i, c := range calls {
		args, err := eval.ResolveAll(c.Args, vars)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", c.Method, err)
		}
		chain, err := renderCalls(c.Chain, vars)
		if err != nil {
			return nil, err
		}
		out[i] = Call{Method: c.Method, Chain: chain}
		if a, ok := args.([]any); ok {
			out[i].Args = a
		}
	}
	return out, nil
}
