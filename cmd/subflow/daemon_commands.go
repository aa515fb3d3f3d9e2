package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"subflow/internal/api"
	"subflow/internal/daemonctl"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var (
		daemonBin string
		logLevel  string
		wait      time.Duration
		grace     time.Duration
	)

	launchOpts := func() daemonctl.LaunchOptions {
		opts := daemonctl.LaunchOptions{LogLevel: logLevel}
		if ctx.configFlag != nil {
			opts.ConfigPath = strings.TrimSpace(*ctx.configFlag)
		}
		return opts
	}

	start := func(cmd *cobra.Command) error {
		return ctx.withClient(func(client *api.Client) error {
			bin, err := daemonctl.ResolveDaemonBinary(daemonBin)
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, bin, launchOpts(), wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(out, "Daemon already running")
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		})
	}

	stop := func(cmd *cobra.Command) error {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return err
		}
		result, err := daemonctl.Terminate(cfg.PIDPath(), grace)
		out := cmd.OutOrStdout()
		if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
			fmt.Fprintln(out, "Daemon is not running")
			return nil
		}
		if err != nil {
			return err
		}
		if result.ForcedKill {
			fmt.Fprintf(out, "Daemon (pid %d) did not exit in %s and was killed\n", result.PID, grace)
			return nil
		}
		fmt.Fprintf(out, "Daemon stopped (pid %d)\n", result.PID)
		return nil
	}

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the subflowd background process",
	}
	daemonCmd.PersistentFlags().StringVar(&daemonBin, "daemon-bin", "", "Path to the subflowd binary (defaults to a sibling of this binary or PATH)")
	daemonCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level passed to the daemon")
	daemonCmd.PersistentFlags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the daemon API to answer")
	daemonCmd.PersistentFlags().DurationVar(&grace, "grace", 10*time.Second, "How long to wait for a graceful stop before killing")

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon unless it is already running",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return start(cmd) },
	})
	daemonCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, killing it after the grace period",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return stop(cmd) },
	})
	daemonCmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Stop and start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stop(cmd); err != nil {
				return err
			}
			return start(cmd)
		},
	})
	return daemonCmd
}
