package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepwise/pkg/kernel/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run trace operations",
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify the hash chain of a run trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := trace.VerifyFile(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !result.Valid {
			fmt.Fprintf(w, "✗ Chain broken at event %d\n", result.BrokenAt)
			if result.Error != "" {
				fmt.Fprintf(w, "  %s\n", result.Error)
			}
			return fmt.Errorf("chain verification failed")
		}
		fmt.Fprintf(w, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
		return nil
	},
}

func init() {
	traceCmd.AddCommand(traceVerifyCmd)
}
