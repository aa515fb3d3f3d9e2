package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"subflow/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check the external binaries the pipeline needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := deps.CheckBinaries(deps.Requirements(ctx.configValue()))
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(statuses))
			for _, dep := range statuses {
				detail := dep.Detail
				if detail == "" {
					detail = dep.Description
				}
				rows = append(rows, []string{dep.Name, dep.Command, yesNo(dep.Available), yesNo(dep.Optional), detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Dependency", "Command", "Available", "Optional", "Detail"}, rows, nil))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required dependencies missing", len(missing))
			}
			return nil
		},
	}
}
