// Package eval renders Go text/template strings against a recorded step, and
// quotes values for the generated JavaScript.
package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Resolve evaluates a template string against a variable scope.
// Example: Resolve("cy.get({{ js .selector }})", {"selector": "#a"}) → "cy.get('#a')"
func Resolve(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Option("missingkey=zero").Funcs(builtinFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// Check parses tmpl without executing it.
func Check(tmpl string) error {
	if _, err := template.New("").Funcs(builtinFuncs()).Parse(tmpl); err != nil {
		return fmt.Errorf("template parse: %w", err)
	}
	return nil
}

// ResolveAll resolves every string inside v, descending into slices and
// string-keyed maps. Other values are returned unchanged.
func ResolveAll(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return Resolve(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := ResolveAll(item, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := ResolveAll(item, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// StepVars exposes a step to templates as .id, .action, .selectType,
// .selector, .comment and .args.
func StepVars(step schema.Step) map[string]any {
	args := make(map[string]string, len(step.Args))
	for k, v := range step.Args {
		args[k] = v
	}
	return map[string]any{
		"id":         step.ID,
		"action":     step.Action,
		"selectType": string(step.SelectType),
		"selector":   step.Selector,
		"comment":    step.Comment,
		"args":       args,
	}
}

// JSString escapes s for use inside a single-quoted JavaScript literal.
func JSString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Quote returns s as a single-quoted JavaScript string literal.
func Quote(s string) string {
	return "'" + JSString(s) + "'"
}

func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		// js quotes a value as a JavaScript string literal.
		"js": func(v any) string {
			return Quote(fmt.Sprint(v))
		},
		"jsEscape": func(v any) string {
			return JSString(fmt.Sprint(v))
		},
		"contains": func(s, substr any) bool {
			return strings.Contains(fmt.Sprint(s), fmt.Sprint(substr))
		},
		"hasPrefix": func(s, prefix any) bool {
			return strings.HasPrefix(fmt.Sprint(s), fmt.Sprint(prefix))
		},
		"trim": func(s any) string {
			return strings.TrimSpace(fmt.Sprint(s))
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
	}
}
