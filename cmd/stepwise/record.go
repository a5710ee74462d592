package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/browser"
	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/resolve"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
	"github.com/ormasoftchile/stepwise/pkg/repl"
	"github.com/ormasoftchile/stepwise/pkg/serve"
	"github.com/ormasoftchile/stepwise/pkg/session"
)

var (
	recordServe    bool
	recordHeadless bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record test steps by clicking in a browser",
	Long: `Open the application under test in Chrome and start the recorder console.
Switch to pointer mode ("mode pointer") and click an element to turn it into
a pending step; "confirm" appends it to the test file and replays it.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var probe serve.Prober
	if url := a.cfg.Target.TestModeProbe; url != "" {
		probe = serve.HTTPProbe(url)
		if err := probe(ctx); err != nil {
			if errors.Is(err, serve.ErrNotTestMode) {
				return fmt.Errorf("%s is not running in test mode", a.cfg.Target.URL)
			}
			return fmt.Errorf("test mode probe: %w", err)
		}
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	filter, err := a.cfg.XHRFilter()
	if err != nil {
		return err
	}
	queue := xhr.NewQueue(filter)

	// Clicks arrive on browser goroutines; the console exists only once the
	// session is wired.
	var console atomic.Pointer[repl.Console]
	br, err := browser.Launch(ctx, browser.Options{
		ExecPath: a.cfg.Browser.ExecPath,
		Headless: recordHeadless || a.cfg.Browser.Headless,
		XHR:      queue,
		OnClick: func(p dom.Point) {
			c := console.Load()
			if c == nil {
				return
			}
			if err := c.Click(ctx, p); err != nil {
				c.Notify("Error: %v\n", err)
			}
		},
		Logger: a.logger.Named("browser"),
	})
	if err != nil {
		return err
	}
	defer br.Close()
	if err := openStart(ctx, a, br); err != nil {
		return err
	}

	sess, err := session.New(session.Options{
		Registry:      a.registry,
		Env:           &actions.Env{Doc: br, XHR: queue, Config: a.cfg.ActionConfig()},
		Engine:        a.cfg.EngineConfig(),
		Resolver:      resolve.New(a.cfg.ResolverOptions()...),
		Store:         st,
		Codec:         a.cfg.CodecOptions(),
		TrackLocation: a.cfg.Recorder.TrackLocation,
		OnMode: func(m session.Mode) {
			if err := br.SetCapture(ctx, m == session.ModePointer); err != nil {
				a.logger.Warn("toggle click capture", zap.String("mode", string(m)), zap.Error(err))
			}
		},
		Logger: a.logger.Named("session"),
	})
	if err != nil {
		return err
	}

	if recordServe {
		srv := serve.New(serve.Options{
			TargetURL: a.cfg.Target.URL,
			Registry:  a.registry,
			Store:     st,
			Session:   sess,
			Probe:     probe,
			Logger:    a.logger.Named("serve"),
		})
		go func() {
			if err := srv.Start(fmt.Sprintf(":%d", a.cfg.Server.Port)); err != nil {
				a.logger.Error("dev server stopped", zap.Error(err))
			}
		}()
		defer shutdown(srv)
	}

	c := repl.New(sess, st)
	defer c.Close()
	console.Store(c)
	return c.Run(ctx)
}

func shutdown(srv *serve.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func init() {
	recordCmd.Flags().BoolVar(&recordServe, "serve", false, "Also serve the dev-server API with the live session attached")
	recordCmd.Flags().BoolVar(&recordHeadless, "headless", false, "Run Chrome without a window (for scripted sessions)")
}
