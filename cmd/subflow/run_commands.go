package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"subflow/internal/api"
)

func newRunCommands(ctx *commandContext) []*cobra.Command {
	simple := func(use, short string, call func(*api.Client, context.Context) (string, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *api.Client) error {
					msg, err := call(client, cmd.Context())
					if err != nil {
						return explainAPIError(err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), msg)
					return nil
				})
			},
		}
	}

	startCmd := &cobra.Command{
		Use:   "start <url>",
		Short: "Download a video and produce translated subtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				msg, err := client.Start(cmd.Context(), args[0])
				if err != nil {
					return explainAPIError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}

	startLocalCmd := &cobra.Command{
		Use:   "start-local [file]",
		Short: "Process an uploaded video (newest upload when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return ctx.withClient(func(client *api.Client) error {
				msg, err := client.StartLocal(cmd.Context(), file)
				if err != nil {
					return explainAPIError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}

	return []*cobra.Command{
		startCmd,
		startLocalCmd,
		simple("stop", "Stop the active run and remove partial downloads", (*api.Client).Stop),
		simple("continue", "Resume processing from the last completed step", (*api.Client).Continue),
		simple("burn", "Burn the subtitle into the best-quality video", (*api.Client).Burn),
		simple("reset", "Reset stages, status, and logs to idle", (*api.Client).Reset),
	}
}

// explainAPIError adds operator guidance to common API failures.
func explainAPIError(err error) error {
	if api.IsConflict(err) {
		return fmt.Errorf("%w\nA run is already in progress; use `subflow stop` first", err)
	}
	return err
}
