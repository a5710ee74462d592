package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/stepwise/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/stepwise/pkg/serve"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dev-server API (init, actions, templates)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var probe serve.Prober
		if url := a.cfg.Target.TestModeProbe; url != "" {
			probe = serve.HTTPProbe(url)
		}
		srv := serve.New(serve.Options{
			TargetURL: a.cfg.Target.URL,
			Registry:  a.registry,
			Store:     st,
			Probe:     probe,
			Logger:    a.logger.Named("serve"),
		})
		port := a.cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.Start(fmt.Sprintf(":%d", port)) }()
		fmt.Fprintf(cmd.OutOrStdout(), "stepwise dev server on http://localhost:%d (target %s)\n", port, a.cfg.Target.URL)
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			shutdown(srv)
			return nil
		}
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		s := mcp.NewServer(version, mcp.NewHandlers(a.registry, a.cfg.CodecOptions()))
		return server.ServeStdio(s)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port from stepwise.yaml)")
}
