// Package repl implements the interactive recorder console.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/session"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

// errQuit ends the loop.
var errQuit = errors.New("quit")

// Console drives a recording session from the terminal.
type Console struct {
	session *session.Session
	store   store.Store

	mu     sync.Mutex
	output io.Writer
	rl     *readline.Instance

	lastReport string
	unwatch    func()
}

// New creates a console for s. st may be nil.
func New(s *session.Session, st store.Store) *Console {
	c := &Console{session: s, store: st, output: os.Stdout}
	c.unwatch = s.Engine().Subscribe(c.report)
	return c
}

// Close detaches the console from the session.
func (c *Console) Close() {
	if c.unwatch != nil {
		c.unwatch()
	}
}

var commands = []string{
	"new", "open", "import", "save", "export", "close",
	"name", "description", "checks",
	"mode pointer", "mode navigation", "click", "step", "set", "arg", "pending", "confirm", "discard",
	"list", "show", "edit", "delete", "up", "down",
	"run", "runstep", "stop", "state", "goto", "templates", "actions", "help", "quit",
}

// Run starts the interactive loop.
func (c *Console) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	c.mu.Lock()
	c.rl = rl
	c.output = rl.Stdout()
	c.mu.Unlock()
	defer rl.Close()

	c.printf("stepwise recorder. Type 'help' for commands, 'new' to start a test.\n\n")

	for {
		rl.SetPrompt(c.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := c.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			c.printf("Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Exec runs one command line. It returns errQuit for quit.
func (c *Console) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))

	switch cmd {
	case "new":
		return c.handleNew(ctx)
	case "open":
		return c.handleOpen(ctx, rest)
	case "import":
		return c.handleImport(args)
	case "save":
		return c.handleSave(ctx)
	case "export":
		return c.handleExport(ctx, args)
	case "close":
		c.session.Reset()
		c.printf("File discarded.\n")
	case "name", "description":
		return c.handleMeta(cmd, rest)
	case "checks":
		return c.handleChecks(args)
	case "mode":
		return c.handleMode(args)
	case "click":
		return c.handleClick(ctx, args)
	case "step":
		return c.handleStep(ctx, args, rest)
	case "set":
		return c.handleSet(args, rest)
	case "arg":
		return c.handleArg(args, rest)
	case "pending", "p":
		return c.handlePending(ctx)
	case "confirm", "ok":
		return c.handleConfirm(ctx)
	case "discard":
		c.session.Discard()
		c.printf("Pending step discarded.\n")
	case "list", "ls":
		return c.handleList()
	case "show":
		return c.handleShow(ctx, args)
	case "edit":
		return c.handleEdit(ctx, args)
	case "delete", "rm":
		return c.withID(args, c.session.Delete)
	case "up":
		return c.withID(args, c.session.MoveUp)
	case "down":
		return c.withID(args, c.session.MoveDown)
	case "run", "r":
		return c.session.Run()
	case "runstep":
		return c.handleRunStep(ctx, args)
	case "stop":
		c.session.Stop()
	case "state":
		c.handleState()
	case "goto":
		return c.handleGoto(ctx, args)
	case "templates":
		return c.handleTemplates(ctx)
	case "actions":
		c.handleActions()
	case "help", "?":
		c.handleHelp()
	case "quit", "q", "exit":
		c.printf("Bye.\n")
		return errQuit
	default:
		c.printf("Unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// Notify prints an asynchronous message, such as a captured click,
// without garbling the prompt.
func (c *Console) Notify(format string, args ...any) {
	c.printf(format, args...)
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	if rl != nil {
		rl.Refresh()
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.output, format, args...)
}

// buildPrompt renders: stepwise[name | N steps | mode]>
func (c *Console) buildPrompt() string {
	tf := c.session.File()
	if tf == nil {
		return "stepwise> "
	}
	marker := ""
	if _, ok := c.session.Pending(); ok {
		marker = " *"
	}
	return fmt.Sprintf("stepwise[%s | %d steps | %s%s]> ", tf.Name, tf.Len(), c.session.Mode(), marker)
}

// report prints run outcomes. It runs on the engine's notification path
// and must not call back into the session's mutators.
func (c *Console) report(st playback.State) {
	var msg string
	switch {
	case st.Completed:
		msg = "  ✓ run completed\n"
	case st.Phase == playback.PhaseHalted:
		msg = fmt.Sprintf("  ✗ halted at step %d: %s\n", st.FailingStep+1, st.ErrMessage())
	default:
		if st.Running {
			c.mu.Lock()
			c.lastReport = ""
			c.mu.Unlock()
		}
		return
	}
	c.mu.Lock()
	dup := msg == c.lastReport
	c.lastReport = msg
	c.mu.Unlock()
	if !dup {
		c.Notify("%s", msg)
	}
}
