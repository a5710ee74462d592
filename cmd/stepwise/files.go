package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepwise/pkg/ecosystem/tui"
	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/stepwise/pkg/kernel/validate"
)

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [test.yaml|test.spec.js]",
	Short: "Validate a test file or exported script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		tf, err := loadValid(cmd.ErrOrStderr(), args[0], a.registry)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", tf.Name, tf.Len())
		return nil
	},
}

// loadValid validates path and prints its findings to w. Warnings do not
// fail the load.
func loadValid(w io.Writer, path string, registry *actions.Registry) (*schema.TestFile, error) {
	tf, errs := kvalidate.ValidateFile(path, registry)
	var failures []*kvalidate.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "    at: %s\n", e.Path)
			}
			continue
		}
		failures = append(failures, e)
	}
	if len(failures) > 0 {
		fmt.Fprintf(w, "Validation failed: %d error(s)\n\n", len(failures))
		for i, e := range failures {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "     at: %s\n", e.Path)
			}
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(failures))
	}
	return tf, nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of test files",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateTestFileJSONSchema()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	},
}

// --- export / import ---

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [test.yaml]",
	Short: "Render a test file as a Cypress script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		tf, err := loadValid(cmd.ErrOrStderr(), args[0], a.registry)
		if err != nil {
			return err
		}
		script, err := codec.Encode(cmd.Context(), tf, a.registry, a.cfg.CodecOptions())
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), exportOut, script)
	},
}

var importOut string

var importCmd = &cobra.Command{
	Use:   "import [test.spec.js]",
	Short: "Recover the test file embedded in an exported script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		tf, err := codec.Decode(string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if tf.Name == "" {
			tf.Name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		out, err := schema.Marshal(tf)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), importOut, string(out))
	},
}

// writeOutput writes content to path, or to w when path is empty.
func writeOutput(w io.Writer, path, content string) error {
	if path == "" {
		_, err := io.WriteString(w, content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ wrote %s\n", path)
	return nil
}

// --- describe ---

var (
	describeRaw   bool
	describeWidth int
)

var describeCmd = &cobra.Command{
	Use:   "describe [test.yaml]",
	Short: "Summarize a test file with its generated code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		tf, err := loadValid(cmd.ErrOrStderr(), args[0], a.registry)
		if err != nil {
			return err
		}
		md := tui.Summary(cmd.Context(), tf, a.registry)
		if !describeRaw {
			md = tui.RenderMarkdown(md, describeWidth) + "\n"
		}
		_, err = io.WriteString(cmd.OutOrStdout(), md)
		return err
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write the script to this file instead of stdout")
	importCmd.Flags().StringVarP(&importOut, "out", "o", "", "Write the YAML test file here instead of stdout")
	describeCmd.Flags().BoolVar(&describeRaw, "raw", false, "Print markdown without terminal styling")
	describeCmd.Flags().IntVar(&describeWidth, "width", 100, "Word-wrap width for styled output")
}
