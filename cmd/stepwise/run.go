package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepwise/pkg/browser"
	"github.com/ormasoftchile/stepwise/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/stepwise/pkg/ecosystem/tui"
	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/executor"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/kernel/trace"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
)

var (
	runTUI    bool
	runTrace  string
	runHeaded bool
	runReport string
	runRedact []string
)

var runCmd = &cobra.Command{
	Use:   "run [test.yaml|test.spec.js]",
	Short: "Play a test file in a browser",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tf, err := loadValid(cmd.ErrOrStderr(), args[0], a.registry)
	if err != nil {
		return err
	}
	filter, err := a.cfg.XHRFilter()
	if err != nil {
		return err
	}
	queue := xhr.NewQueue(filter)
	br, err := browser.Launch(ctx, browser.Options{
		ExecPath: a.cfg.Browser.ExecPath,
		Headless: !runHeaded,
		XHR:      queue,
		Logger:   a.logger.Named("browser"),
	})
	if err != nil {
		return err
	}
	defer br.Close()
	if err := openStart(ctx, a, br); err != nil {
		return err
	}

	var tw *trace.Writer
	if runTrace != "" {
		tw, err = trace.NewFileWriter(runTrace, uuid.NewString())
		if err != nil {
			return err
		}
		defer tw.Close()
	}

	eng, rec := newEngine(a, br, queue, tw)
	var state playback.State
	if runTUI {
		state, err = tui.Run(ctx, tf, eng, a.registry)
	} else {
		state, err = play(ctx, eng, tf, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	if runReport != "" {
		if err := recorder.WriteReport(runReport, rec.Report(tf.Name, state)); err != nil {
			return err
		}
	}
	return reportRun(cmd.OutOrStdout(), tf, state)
}

// openStart loads the configured start page.
func openStart(ctx context.Context, a *app, doc dom.Document) error {
	start, err := a.cfg.ActionConfig().StartURL()
	if err != nil {
		return err
	}
	if err := doc.Navigate(ctx, start); err != nil {
		return fmt.Errorf("open %s: %w", start, err)
	}
	return nil
}

// newEngine wires a playback engine over doc. Every execution passes
// through the returned recorder.
func newEngine(a *app, doc dom.Document, queue *xhr.Queue, tw *trace.Writer) (*playback.Engine, *recorder.Recorder) {
	env := &actions.Env{Doc: doc, XHR: queue, Config: a.cfg.ActionConfig()}
	rec := recorder.New(executor.New(a.registry, env, a.logger.Named("executor")))
	rec.SetSecrets(runRedact)
	cfg := a.cfg.EngineConfig()
	cfg.Trace = tw
	cfg.Logger = a.logger.Named("playback")
	return playback.New(rec, cfg), rec
}

// play runs tf to completion, printing each step as it starts.
func play(ctx context.Context, eng *playback.Engine, tf *schema.TestFile, w io.Writer) (playback.State, error) {
	last := -1
	unsubscribe := eng.Subscribe(func(s playback.State) {
		if !s.Running || s.StepNumber == last || s.StepNumber >= tf.Len() {
			return
		}
		last = s.StepNumber
		step := tf.Steps[s.StepNumber]
		fmt.Fprintf(w, "  ▸ %d/%d %s %s\n", s.StepNumber+1, s.Total, step.Action, step.Selector)
	})
	defer unsubscribe()

	eng.Start(tf)
	state, err := eng.Wait(ctx)
	if err != nil {
		eng.Stop()
	}
	return state, err
}

func reportRun(w io.Writer, tf *schema.TestFile, s playback.State) error {
	switch {
	case s.Completed:
		fmt.Fprintf(w, "✓ %s passed (%d steps)\n", tf.Name, tf.Len())
		return nil
	case s.Phase == playback.PhaseHalted:
		id := ""
		if s.FailingStep >= 0 && s.FailingStep < tf.Len() {
			id = tf.Steps[s.FailingStep].ID
		}
		fmt.Fprintf(w, "✗ %s halted at step %d (%s) after %d attempt(s)\n  %s\n", tf.Name, s.FailingStep+1, id, s.Attempts, s.ErrMessage())
		return fmt.Errorf("run halted at step %d", s.FailingStep+1)
	default:
		fmt.Fprintf(w, "■ %s stopped\n", tf.Name)
		return fmt.Errorf("run stopped")
	}
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Follow the run in a terminal monitor")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Append a JSONL run trace to this file")
	runCmd.Flags().BoolVar(&runHeaded, "headed", false, "Show the browser window")
	runCmd.Flags().StringVar(&runReport, "report", "", "Write a YAML step report to this file")
	runCmd.Flags().StringSliceVar(&runRedact, "redact", nil, "Env var names whose values are redacted from the report")
}
