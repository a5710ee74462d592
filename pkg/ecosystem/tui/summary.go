package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Summary describes tf as markdown: one section per step with its
// arguments and generated code. Steps whose code cannot be generated show
// the error in place of the code.
func Summary(ctx context.Context, tf *schema.TestFile, gen codec.CodeGenerator) string {
	var b strings.Builder
	name := tf.Name
	if name == "" {
		name = "untitled"
	}
	fmt.Fprintf(&b, "# %s\n\n", name)
	if tf.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", tf.Description)
	}
	checks := "no"
	if tf.ChecksErrorsAfterEveryStep {
		checks = "yes"
	}
	fmt.Fprintf(&b, "- **Steps:** %d\n- **Checks errors after every step:** %s\n\n", tf.Len(), checks)

	for i, step := range tf.Steps {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, step.Action)
		if step.Comment != "" {
			fmt.Fprintf(&b, "_%s_\n\n", step.Comment)
		}
		if step.Selector != "" {
			kind := string(step.SelectType)
			if kind == "" {
				kind = string(schema.SelectBySelector)
			}
			fmt.Fprintf(&b, "- **%s:** `%s`\n", kind, step.Selector)
		}
		keys := make([]string, 0, len(step.Args))
		for k := range step.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s:** %s\n", k, step.Args[k])
		}
		if step.Selector != "" || len(keys) > 0 {
			b.WriteByte('\n')
		}

		code, err := gen.GenerateCode(ctx, step)
		if err != nil {
			fmt.Fprintf(&b, "> %s %s\n\n", GlyphFailed, err)
			continue
		}
		fmt.Fprintf(&b, "```js\n%s\n```\n\n", code)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderMarkdown styles md for a terminal of the given width. The raw text
// is returned when rendering fails.
func RenderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
