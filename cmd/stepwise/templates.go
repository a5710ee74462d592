package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage stored test templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored templates",
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

		list, err := st.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No templates.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTEPS\tUPDATED\tDESCRIPTION")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, s.Steps, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Description)
		}
		return tw.Flush()
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print a stored template as YAML",
	Args:  cobra.ExactArgs(1),
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

		tf, err := st.Load(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := schema.Marshal(tf)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a stored template",
	Args:  cobra.ExactArgs(1),
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

		if err := st.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted %s\n", args[0])
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesDeleteCmd)
}
