package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/eval"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Argument keys used by the builtin actions.
const (
	ArgTypeContent       = "typeContent"
	ArgTextContent       = "textContent"
	ArgLocationProperty  = "locationProperty"
	ArgLocationMatchType = "locationMatchType"
	ArgXHRMethod         = "xhrMethod"
	ArgXHRProperty       = "xhrProperty"
	ArgCodeBlock         = "codeBlock"
)

// Location match types.
const (
	MatchExact      = "exact"
	MatchStartsWith = "startsWith"
)

// Builtins returns the builtin action descriptors. cfg feeds code
// generation; running steps read the Env's config.
func Builtins(cfg Config) []*Descriptor {
	return []*Descriptor{
		{
			Action:            "reset",
			Label:             "resets the state",
			HideSelectorInput: true,
			GenerateCode: func(_ context.Context, _ schema.Step) (string, error) {
				start, err := cfg.StartURL()
				if err != nil {
					return "", err
				}
				return strings.Join([]string{
					"cy.clearCookies()",
					"cy.clearLocalStorage()",
					"cy.visit(" + eval.Quote(start) + ")",
				}, "\n"), nil
			},
			RunStep: runReset,
		},
		{
			Action: "type",
			Label:  "enter value into input",
			Params: []Param{{Key: ArgTypeContent, Type: "string", Label: "Type Content"}},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return fmt.Sprintf("%s.clear().type(%s)", target(step), eval.Quote(step.Args[ArgTypeContent])), nil
			},
			RunStep: runSetValue,
		},
		{
			Action: "click",
			Label:  "click element",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return target(step) + ".click()", nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				el, err := first(ctx, env, step)
				if err != nil {
					return err
				}
				return env.Doc.Click(ctx, el)
			},
		},
		{
			Action: "location",
			Label:  "verify page location",
			Params: []Param{
				{
					Key:     ArgLocationProperty,
					Type:    "select",
					Label:   "Location property",
					Options: []Option{{Key: "pathname", Label: "pathname"}, {Key: "href", Label: "href"}},
				},
				{
					Key:          ArgLocationMatchType,
					Type:         "select",
					Label:        "Match type",
					DefaultValue: MatchExact,
					Options:      []Option{{Key: MatchStartsWith, Label: "starts with"}, {Key: MatchExact, Label: "is exactly"}},
				},
			},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				prop := eval.Quote(step.Arg(ArgLocationProperty, "pathname"))
				if step.Arg(ArgLocationMatchType, MatchExact) == MatchStartsWith {
					return fmt.Sprintf("cy.location(%s).should('satisfy', (v) => v.startsWith(%s))", prop, eval.Quote(step.Selector)), nil
				}
				return fmt.Sprintf("cy.location(%s).should('eq', %s)", prop, eval.Quote(step.Selector)), nil
			},
			RunStep: runLocation,
		},
		{
			Action: "exist",
			Label:  "should exist",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return target(step), nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				_, err := first(ctx, env, step)
				return err
			},
		},
		{
			Action: "notExist",
			Label:  "should not exist",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return target(step) + ".should('not.exist')", nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				els, err := dom.Find(ctx, env.Doc, step.ByContent(), step.Selector)
				if err != nil {
					return err
				}
				if len(els) > 0 {
					return failure.New(failure.KindAssertionFailed,
						"Found element matching: '%s' (should not exist)", step.Selector)
				}
				return nil
			},
		},
		{
			Action: "contains",
			Label:  "should contain",
			Params: []Param{{Key: ArgTextContent, Type: "string", Label: "Text content"}},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return fmt.Sprintf("%s.contains(%s)", target(step), eval.Quote(step.Args[ArgTextContent])), nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				els, err := dom.Find(ctx, env.Doc, step.ByContent(), step.Selector)
				if err != nil {
					return err
				}
				text := step.Args[ArgTextContent]
				for _, el := range els {
					if strings.Contains(el.Text, text) {
						return nil
					}
				}
				return failure.New(failure.KindAssertionFailed,
					"Could not find content '%s' in '%s'", text, step.Selector)
			},
		},
		{
			Action: "goto",
			Label:  "goto a page",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return "cy.visit(" + eval.Quote(step.Selector) + ")", nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				return env.Doc.Navigate(ctx, step.Selector)
			},
		},
		{
			Action: "select",
			Label:  "select value from dropdown",
			Params: []Param{{Key: ArgTypeContent, Type: "string", Label: "Type content"}},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return fmt.Sprintf("%s.select(%s)", target(step), eval.Quote(step.Args[ArgTypeContent])), nil
			},
			RunStep: runSetValue,
		},
		{
			Action:            "reload",
			Label:             "refresh the page",
			HideSelectorInput: true,
			GenerateCode: func(_ context.Context, _ schema.Step) (string, error) {
				return "cy.reload()", nil
			},
			RunStep: func(ctx context.Context, _ schema.Step, env *Env) error {
				return env.Doc.Reload(ctx)
			},
		},
		{
			Action: "xhr",
			Label:  "wait for request",
			Params: []Param{
				{
					Key:          ArgXHRMethod,
					Type:         "select",
					Label:        "Method",
					DefaultValue: "GET",
					Options:      options("DELETE", "GET", "PATCH", "POST", "PUT"),
				},
				{
					Key:     ArgXHRProperty,
					Type:    "select",
					Label:   "Request property",
					Options: options("href", "pathname"),
				},
			},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return strings.Join([]string{
					"helpers.waitForXHR({",
					"\tid: " + eval.Quote(step.ID) + ",",
					"\tmethod: " + eval.Quote(step.Arg(ArgXHRMethod, "GET")) + ",",
					"\tproperty: " + eval.Quote(step.Arg(ArgXHRProperty, "href")) + ",",
					"\tvalue: " + eval.Quote(step.Selector) + ",",
					"})",
				}, "\n"), nil
			},
			RunStep: runXHR,
		},
		{
			Action: "disabled",
			Label:  "should be disabled",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return target(step) + ".should('be.disabled')", nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				return runDisabled(ctx, step, env, true)
			},
		},
		{
			Action: "notDisabled",
			Label:  "should not be disabled",
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return target(step) + ".should('not.be.disabled')", nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				return runDisabled(ctx, step, env, false)
			},
		},
		{
			Action:            "code",
			Label:             "custom code block",
			HideSelectorInput: true,
			Params: []Param{{
				Key:          ArgCodeBlock,
				Type:         "string",
				Label:        "Custom code",
				DefaultValue: "console.log('hello, world')",
			}},
			GenerateCode: func(_ context.Context, step schema.Step) (string, error) {
				return step.Args[ArgCodeBlock], nil
			},
			RunStep: func(ctx context.Context, step schema.Step, env *Env) error {
				ev, ok := env.Doc.(dom.Evaluator)
				if !ok {
					return &failure.Error{
						Kind:    failure.KindActionContractViolation,
						Action:  step.Action,
						Message: "Action 'code' needs a document that evaluates script",
					}
				}
				return ev.Evaluate(ctx, step.Args[ArgCodeBlock])
			},
		},
	}
}

func options(keys ...string) []Option {
	out := make([]Option, len(keys))
	for i, k := range keys {
		out[i] = Option{Key: k, Label: k}
	}
	return out
}

// target is the test-runner expression selecting a step's element.
func target(step schema.Step) string {
	if step.ByContent() {
		return "cy.contains(" + eval.Quote(step.Selector) + ")"
	}
	return "cy.get(" + eval.Quote(step.Selector) + ")"
}

// first returns the first element a step targets, or ElementNotFound.
func first(ctx context.Context, env *Env, step schema.Step) (dom.Element, error) {
	els, err := dom.Find(ctx, env.Doc, step.ByContent(), step.Selector)
	if err != nil {
		return dom.Element{}, err
	}
	if len(els) == 0 {
		return dom.Element{}, failure.New(failure.KindElementNotFound,
			"No element found matching %s", dom.Describe(step.ByContent(), step.Selector))
	}
	return els[0], nil
}

func runReset(ctx context.Context, _ schema.Step, env *Env) error {
	if err := clearCookies(ctx, env); err != nil {
		return err
	}
	if err := clearStorage(ctx, env); err != nil {
		return err
	}
	start, err := env.Config.StartURL()
	if err != nil {
		return err
	}
	return env.Doc.Navigate(ctx, start)
}

func runSetValue(ctx context.Context, step schema.Step, env *Env) error {
	el, err := first(ctx, env, step)
	if err != nil {
		return err
	}
	return env.Doc.SetValue(ctx, el, step.Args[ArgTypeContent])
}

func runLocation(ctx context.Context, step schema.Step, env *Env) error {
	loc, err := env.Doc.Location(ctx)
	if err != nil {
		return err
	}
	prop := step.Arg(ArgLocationProperty, "pathname")
	current := loc.Property(prop)
	if step.Arg(ArgLocationMatchType, MatchExact) == MatchStartsWith {
		if strings.HasPrefix(current, step.Selector) {
			return nil
		}
	} else if current == step.Selector {
		return nil
	}
	return failure.New(failure.KindUnexpectedLocation,
		"Unexpected %s: '%s' (expected '%s')", prop, current, step.Selector)
}

func runXHR(_ context.Context, step schema.Step, env *Env) error {
	method := step.Arg(ArgXHRMethod, "GET")
	if env.XHR != nil {
		if _, ok := env.XHR.Take(method, step.Arg(ArgXHRProperty, "href"), step.Selector); ok {
			return nil
		}
	}
	return failure.New(failure.KindAssertionFailed,
		"Could not find an XHR request matching: %s %s", method, step.Selector)
}

func runDisabled(ctx context.Context, step schema.Step, env *Env, want bool) error {
	els, err := dom.Find(ctx, env.Doc, step.ByContent(), step.Selector)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return failure.New(failure.KindElementNotFound,
			"No element found matching %s", dom.Describe(step.ByContent(), step.Selector))
	}
	disabled := false
	for _, el := range els {
		if el.Disabled {
			disabled = true
			break
		}
	}
	switch {
	case want && !disabled:
		return failure.New(failure.KindAssertionFailed, "'%s' is not disabled (should be)", step.Selector)
	case !want && disabled:
		return failure.New(failure.KindAssertionFailed, "'%s' is disabled (should not be)", step.Selector)
	}
	return nil
}
