package repl

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/session"
)

const selectorWidth = 40

func (c *Console) handleNew(ctx context.Context) error {
	if err := c.session.NewFile(ctx); err != nil {
		c.printf("  reset failed: %v\n", err)
	}
	c.printf("New test %q. Click elements in the page to record steps.\n", session.DefaultName)
	return nil
}

func (c *Console) handleOpen(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("usage: open <template>")
	}
	if err := c.session.Open(ctx, name); err != nil {
		return err
	}
	c.printf("Opened %q (%d steps).\n", name, c.session.File().Len())
	return nil
}

func (c *Console) handleImport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <script.js>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if err := c.session.Import(string(data)); err != nil {
		return err
	}
	tf := c.session.File()
	c.printf("Imported %q (%d steps).\n", tf.Name, tf.Len())
	return nil
}

func (c *Console) handleSave(ctx context.Context) error {
	tf := c.session.File()
	if tf == nil {
		return session.ErrNoFile
	}
	if err := c.session.Save(ctx); err != nil {
		return err
	}
	c.printf("Saved template %q.\n", tf.Name)
	return nil
}

func (c *Console) handleExport(ctx context.Context, args []string) error {
	script, err := c.session.Export(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		c.printf("%s\n", script)
		return nil
	}
	if err := os.WriteFile(args[0], []byte(script), 0o644); err != nil {
		return err
	}
	c.printf("Exported to %s.\n", args[0])
	return nil
}

func (c *Console) handleMeta(field, value string) error {
	tf := c.session.File()
	if tf == nil {
		return session.ErrNoFile
	}
	if value == "" {
		if field == "name" {
			c.printf("  %s\n", tf.Name)
		} else {
			c.printf("  %s\n", tf.Description)
		}
		return nil
	}
	name, desc := tf.Name, tf.Description
	if field == "name" {
		name = value
	} else {
		desc = value
	}
	return c.session.SetMeta(name, desc, tf.ChecksErrorsAfterEveryStep)
}

func (c *Console) handleChecks(args []string) error {
	tf := c.session.File()
	if tf == nil {
		return session.ErrNoFile
	}
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: checks on|off")
	}
	return c.session.SetMeta(tf.Name, tf.Description, args[0] == "on")
}

func (c *Console) handleMode(args []string) error {
	if len(args) == 0 {
		c.printf("  %s\n", c.session.Mode())
		return nil
	}
	return c.session.SetMode(session.Mode(args[0]))
}

// handleClick records a click at page coordinates, the way a captured
// browser click does.
func (c *Console) handleClick(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: click <x> <y>")
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("bad x: %w", err)
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad y: %w", err)
	}
	return c.Click(ctx, dom.Point{X: x, Y: y})
}

// Click resolves a pointer click and prints the resulting pending step.
func (c *Console) Click(ctx context.Context, p dom.Point) error {
	res, err := c.session.Click(ctx, p)
	if err != nil {
		return err
	}
	if res == nil {
		c.Notify("  nothing selectable near (%.0f, %.0f)\n", p.X, p.Y)
		return nil
	}
	c.Notify("%s", c.describePending(ctx, res.Step, res.Warning))
	return nil
}

func (c *Console) handleStep(ctx context.Context, args []string, rest string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: step <action> [selector]")
	}
	step := schema.Step{
		Action:   args[0],
		Selector: strings.TrimSpace(strings.TrimPrefix(rest, args[0])),
	}
	if d, err := c.session.Registry().Lookup(step.Action); err == nil && d.HideSelectorInput {
		step.SelectType = schema.SelectNone
	}
	if p, ok := c.session.Pending(); ok {
		step.ID = p.ID
		step.Comment = p.Comment
	}
	if err := c.session.SetPending(step); err != nil {
		return err
	}
	return c.handlePending(ctx)
}

func (c *Console) handleSet(args []string, rest string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: set action|selector|selectType|comment <value>")
	}
	p, ok := c.session.Pending()
	if !ok {
		return session.ErrNoPending
	}
	value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	switch args[0] {
	case "action":
		p.Action = value
	case "selector":
		p.Selector = value
	case "selectType":
		p.SelectType = schema.SelectType(value)
	case "comment":
		p.Comment = value
	default:
		return fmt.Errorf("unknown field %q", args[0])
	}
	return c.session.SetPending(p)
}

func (c *Console) handleArg(args []string, rest string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: arg <key> <value>")
	}
	p, ok := c.session.Pending()
	if !ok {
		return session.ErrNoPending
	}
	if p.Args == nil {
		p.Args = map[string]string{}
	}
	p.Args[args[0]] = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	return c.session.SetPending(p)
}

func (c *Console) handlePending(ctx context.Context) error {
	p, ok := c.session.Pending()
	if !ok {
		c.printf("No pending step.\n")
		return nil
	}
	c.printf("%s", c.describePending(ctx, p, nil))
	return nil
}

func (c *Console) describePending(ctx context.Context, step schema.Step, warning error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  pending %s %s", step.Action, step.Selector)
	if step.SelectType == schema.SelectByContent {
		b.WriteString(" (by content)")
	}
	b.WriteByte('\n')
	for k, v := range step.Args {
		fmt.Fprintf(&b, "    %s = %q\n", k, v)
	}
	for _, line := range strings.Split(c.session.Preview(ctx, step), "\n") {
		fmt.Fprintf(&b, "    %s\n", line)
	}
	if warning != nil {
		fmt.Fprintf(&b, "  ! %v\n", warning)
	}
	return b.String()
}

func (c *Console) handleConfirm(ctx context.Context) error {
	res, err := c.session.Confirm(ctx)
	if err != nil {
		return err
	}
	switch {
	case res.Updated:
		c.printf("  step updated\n")
	default:
		for _, s := range res.Added {
			c.printf("  + %s %s\n", s.Action, s.Selector)
		}
	}
	if res.Replayed && res.ReplayErr != nil {
		c.printf("  ✗ replay failed: %v\n", res.ReplayErr)
	}
	return nil
}

func (c *Console) handleList() error {
	tf := c.session.File()
	if tf == nil {
		return session.ErrNoFile
	}
	if tf.Len() == 0 {
		c.printf("No steps recorded.\n")
		return nil
	}
	st := c.session.State()
	for i, s := range tf.Steps {
		marker := " "
		switch {
		case st.Phase == playback.PhaseHalted && st.FailingStep == i:
			marker = "✗"
		case st.Running && st.StepNumber == i:
			marker = ">"
		}
		c.printf("%s %2d  %-8s  %-10s  %s\n", marker, i+1, shortID(s.ID), s.Action,
			runewidth.Truncate(s.Selector, selectorWidth, "..."))
	}
	return nil
}

func (c *Console) handleShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <id>")
	}
	tf := c.session.File()
	if tf == nil {
		return session.ErrNoFile
	}
	step, ok := tf.Step(c.resolveID(args[0]))
	if !ok {
		return fmt.Errorf("step %s not found", args[0])
	}
	c.printf("%s\n", c.session.Preview(ctx, step))
	return nil
}

func (c *Console) handleEdit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: edit <id>")
	}
	step, err := c.session.Edit(c.resolveID(args[0]))
	if err != nil {
		return err
	}
	c.printf("%s", c.describePending(ctx, step, nil))
	return nil
}

func (c *Console) withID(args []string, fn func(string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected a step id")
	}
	return fn(c.resolveID(args[0]))
}

func (c *Console) handleRunStep(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: runstep <id>")
	}
	if err := c.session.RunStep(ctx, c.resolveID(args[0])); err != nil {
		return err
	}
	c.printf("  ✓ step passed\n")
	return nil
}

func (c *Console) handleState() {
	st := c.session.State()
	c.printf("  phase=%s step=%d/%d attempts=%d", st.Phase, st.StepNumber+1, st.Total, st.Attempts)
	if msg := st.ErrMessage(); msg != "" {
		c.printf(" error=%q", msg)
	}
	c.printf("\n")
}

func (c *Console) handleGoto(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: goto <url>")
	}
	return c.session.Env().Doc.Navigate(ctx, args[0])
}

func (c *Console) handleTemplates(ctx context.Context) error {
	if c.store == nil {
		return session.ErrNoStore
	}
	list, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.printf("No templates.\n")
		return nil
	}
	for _, t := range list {
		c.printf("  %-24s %3d steps  %s\n", t.Name, t.Steps, t.Description)
	}
	return nil
}

func (c *Console) handleActions() {
	for _, d := range c.session.Registry().List() {
		c.printf("  %-12s %s\n", d.Action, d.Label)
	}
}

// resolveID accepts a full step id, a unique id prefix, or a 1-based
// position.
func (c *Console) resolveID(ref string) string {
	tf := c.session.File()
	if tf == nil {
		return ref
	}
	if tf.IndexOf(ref) >= 0 {
		return ref
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= tf.Len() {
		return tf.Steps[n-1].ID
	}
	match := ""
	for _, s := range tf.Steps {
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return ref
			}
			match = s.ID
		}
	}
	if match != "" {
		return match
	}
	return ref
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *Console) handleHelp() {
	lines := []string{
		"File:",
		"  new                   Start a test and reset the page",
		"  open <template>       Open a stored template",
		"  import <script.js>    Open an exported script",
		"  save                  Store as a template and close",
		"  export [path]         Render the script and close",
		"  close                 Discard the file",
		"  name|description [v]  Show or set the test name or description",
		"  checks on|off         Assert no error banner after every step",
		"Recording:",
		"  mode [pointer|navigation]",
		"  click <x> <y>         Pick the element nearest a page position",
		"  step <action> [sel]   Set the pending step by hand",
		"  set <field> <value>   Edit the pending step",
		"  arg <key> <value>     Set a pending step argument",
		"  pending (p)           Show the pending step and its code",
		"  confirm (ok)          Commit the pending step",
		"  discard               Drop the pending step",
		"Steps (id, id prefix or position):",
		"  list (ls)             List recorded steps",
		"  show|edit|delete|up|down <id>",
		"Playback:",
		"  run (r)               Play the whole test",
		"  runstep <id>          Execute one step once",
		"  stop                  Stop playback",
		"  state                 Show playback state",
		"Other:",
		"  goto <url>            Navigate the page",
		"  templates             List stored templates",
		"  actions               List available actions",
		"  help (?)              Show this help",
		"  quit (q)              Exit",
	}
	for _, l := range lines {
		c.printf("%s\n", l)
	}
}
