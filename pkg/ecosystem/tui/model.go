package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Status is the display state of one step.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusPassed
	StatusFailed
)

// StepStatus derives the status of step i from a run snapshot.
func StepStatus(s playback.State, i int) Status {
	switch {
	case s.Completed:
		return StatusPassed
	case s.Phase == playback.PhaseHalted:
		switch {
		case i < s.FailingStep:
			return StatusPassed
		case i == s.FailingStep:
			return StatusFailed
		}
	case s.Running:
		switch {
		case i < s.StepNumber:
			return StatusPassed
		case i == s.StepNumber:
			return StatusRunning
		}
	}
	return StatusPending
}

type stateMsg playback.State

type codeMsg struct {
	index int
	code  string
	err   error
}

// engineCmdMsg follows a Stop or Start issued off the update loop.
type engineCmdMsg struct{}

// Model is the bubbletea model of the playback monitor.
type Model struct {
	ctx     context.Context
	tf      *schema.TestFile
	engine  *playback.Engine
	gen     codec.CodeGenerator
	updates chan playback.State

	state    playback.State
	selected int
	showCode bool
	code     string
	codeErr  error

	spinner  spinner.Model
	help     help.Model
	width    int
	quitting bool
}

// NewModel returns a monitor for eng playing tf. updates must be fed by an
// engine listener; see Run.
func NewModel(ctx context.Context, tf *schema.TestFile, eng *playback.Engine, gen codec.CodeGenerator, updates chan playback.State) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stepRunning
	return Model{
		ctx:     ctx,
		tf:      tf,
		engine:  eng,
		gen:     gen,
		updates: updates,
		state:   eng.State(),
		spinner: sp,
		help:    help.New(),
		width:   80,
	}
}

// Run plays tf on eng under a full-screen monitor and returns the last
// state seen when the user quits.
func Run(ctx context.Context, tf *schema.TestFile, eng *playback.Engine, gen codec.CodeGenerator) (playback.State, error) {
	updates := make(chan playback.State, 1)
	unsubscribe := eng.Subscribe(func(s playback.State) { offer(updates, s) })
	defer unsubscribe()

	m := NewModel(ctx, tf, eng, gen, updates)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	eng.Stop()
	if fm, ok := final.(Model); ok {
		return fm.state, err
	}
	return eng.State(), err
}

// offer replaces any undelivered snapshot with s.
func offer(ch chan playback.State, s playback.State) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Init starts the spinner, the state listener and the run.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForState(), m.start())
}

func (m Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.updates:
			return stateMsg(s)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) start() tea.Cmd {
	return func() tea.Msg {
		m.engine.Start(m.tf)
		return engineCmdMsg{}
	}
}

func (m Model) stop() tea.Cmd {
	return func() tea.Msg {
		m.engine.Stop()
		return engineCmdMsg{}
	}
}

func (m Model) generate(i int) tea.Cmd {
	step := m.tf.Steps[i]
	return func() tea.Msg {
		code, err := m.gen.GenerateCode(m.ctx, step)
		return codeMsg{index: i, code: code, err: err}
	}
}

// Update handles state snapshots, key presses and the spinner.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case stateMsg:
		m.state = playback.State(msg)
		if m.state.Running {
			m.selected = m.state.StepNumber
		} else if m.state.FailingStep >= 0 {
			m.selected = m.state.FailingStep
		}
		return m, m.waitForState()

	case codeMsg:
		if msg.index == m.selected {
			m.code, m.codeErr = msg.code, msg.err
		}
		return m, nil

	case engineCmdMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := m.tf.Len()
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Sequence(m.stop(), tea.Quit)
	case key.Matches(msg, keys.Stop):
		return m, m.stop()
	case key.Matches(msg, keys.Restart):
		return m, m.start()
	case key.Matches(msg, keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, keys.Down):
		if m.selected < n-1 {
			m.selected++
		}
	case key.Matches(msg, keys.Code):
		m.showCode = !m.showCode
	default:
		return m, nil
	}
	if m.showCode && n > 0 {
		m.code, m.codeErr = "", nil
		return m, m.generate(m.selected)
	}
	return m, nil
}

// View renders the step list, the optional code panel and the status line.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	title := m.tf.Name
	if title == "" {
		title = "untitled"
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	for i, step := range m.tf.Steps {
		b.WriteString(m.renderStep(i, step))
		b.WriteByte('\n')
	}
	if m.tf.Len() == 0 {
		b.WriteString(dimStyle.Render("  no steps"))
		b.WriteByte('\n')
	}

	if m.showCode && m.tf.Len() > 0 {
		b.WriteByte('\n')
		switch {
		case m.codeErr != nil:
			b.WriteString(codePanel.Render(failStyle.Render(m.codeErr.Error())))
		case m.code != "":
			b.WriteString(codePanel.Render(m.code))
		default:
			b.WriteString(codePanel.Render(dimStyle.Render("generating...")))
		}
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m Model) renderStep(i int, step schema.Step) string {
	cursor := "  "
	if i == m.selected {
		cursor = "▸ "
	}
	var glyph string
	style := stepNormal
	switch StepStatus(m.state, i) {
	case StatusRunning:
		glyph, style = m.spinner.View(), stepRunning
	case StatusPassed:
		glyph, style = GlyphPassed, stepPassed
	case StatusFailed:
		glyph, style = GlyphFailed, stepFailed
	default:
		glyph = GlyphPending
	}
	if i == m.selected && style == stepNormal {
		style = stepSelected
	}

	line := fmt.Sprintf("%2d. %s", i+1, step.Action)
	if step.Selector != "" {
		avail := m.width - runewidth.StringWidth(line) - 8
		if avail < 10 {
			avail = 10
		}
		line += " " + runewidth.Truncate(step.Selector, avail, "…")
	}
	out := cursor + glyph + " " + style.Render(line)
	if step.Comment != "" {
		out += dimStyle.Render("  # " + step.Comment)
	}
	return out
}

func (m Model) statusLine() string {
	s := m.state
	switch {
	case s.Completed:
		return okStyle.Render(fmt.Sprintf("%s run completed (%d steps)", GlyphPassed, s.Total))
	case s.Phase == playback.PhaseHalted:
		return failStyle.Render(fmt.Sprintf("%s halted at step %d: %s", GlyphFailed, s.FailingStep+1, s.ErrMessage()))
	case s.Running:
		return stepRunning.Render(fmt.Sprintf("running step %d/%d (attempt %d)", s.StepNumber+1, s.Total, s.Attempts))
	default:
		return dimStyle.Render("idle")
	}
}
