package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"subflow/internal/api"
	"subflow/internal/logs"
	"subflow/internal/runstate"
)

const followWait = 25 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var since uint64
	var limit int
	var fromFile bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print buffered daemon log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile {
				return tailLogFile(cmd, ctx, limit, follow)
			}
			err := ctx.withClient(func(client *api.Client) error {
				return streamLogs(cmd.Context(), client, cmd.OutOrStdout(), since, limit, follow)
			})
			if logs.IsAPIUnavailable(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Daemon unreachable; reading the log file instead")
				return tailLogFile(cmd, ctx, limit, follow)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they arrive")
	cmd.Flags().Uint64Var(&since, "since", 0, "Only print lines after this sequence number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum lines per request")
	cmd.Flags().BoolVar(&fromFile, "file", false, "Read the daemon log file instead of the API buffer")
	return cmd
}

func streamLogs(ctx context.Context, client *api.Client, out io.Writer, since uint64, limit int, follow bool) error {
	for {
		wait := time.Duration(0)
		if follow {
			wait = followWait
		}
		page, err := client.Logs(ctx, since, limit, wait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		printLogEntries(out, page.Entries)
		since = page.Next
		if !follow && len(page.Entries) < limit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func tailLogFile(cmd *cobra.Command, ctx *commandContext, limit int, follow bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return logs.Tail(cmd.Context(), cfg.LogFilePath(), logs.TailOptions{Lines: limit, Follow: follow}, func(line string) {
		fmt.Fprintln(out, line)
	})
}

func printLogEntries(out io.Writer, entries []runstate.LogEntry) {
	for _, entry := range entries {
		fmt.Fprintln(out, entry.Line())
	}
}
