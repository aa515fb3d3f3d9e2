package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"subflow/internal/api"
	"subflow/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run status, stage progress, and dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("%w\nIs subflowd running?", err)
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				renderStatus(out, status, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw status as JSON")
	return cmd
}

func renderStatus(out io.Writer, status api.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Workflow", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", runStatusKind(status.Status), string(status.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Active run", statusInfo, yesNo(status.Active), false))
	if status.RunID != "" {
		fmt.Fprintln(out, renderStatusLine("Run ID", statusInfo, status.RunID, false))
	}
	fmt.Fprintln(out, renderStatusLine("Burning", statusInfo, yesNo(status.Burning), false))
	if status.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, status.Error, colorize))
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(status.Stages))
	for _, stage := range status.Stages {
		rows = append(rows, []string{stage.Name, stageLabel(stage.Status, colorize), fmt.Sprintf("%.0f%%", stage.Progress)})
	}
	fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Progress"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))

	if len(status.Dependencies) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Dependencies", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, line := range dependencyLines(status.Dependencies, colorize) {
			fmt.Fprintln(out, line)
		}
	}
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		kind := statusOK
		detail := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = dep.Detail
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}
