package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"subflow/internal/api"
)

func newFileCommands(ctx *commandContext) []*cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "List workspace files available for download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				files, err := client.Files(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(files) == 0 {
					fmt.Fprintln(out, "Workspace is empty")
					return nil
				}
				rows := make([][]string, 0, len(files))
				for _, f := range files {
					rows = append(rows, []string{f.Name, humanSize(f.Size), f.ModifiedAt.Local().Format(time.DateTime)})
				}
				fmt.Fprintln(out, renderTable([]string{"Name", "Size", "Modified"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}

	var outputDir string
	downloadCmd := &cobra.Command{
		Use:   "download <name>",
		Short: "Download a workspace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				dest := filepath.Join(outputDir, filepath.Base(args[0]))
				file, err := os.Create(dest)
				if err != nil {
					return err
				}
				n, err := client.Download(cmd.Context(), args[0], file)
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					_ = os.Remove(dest)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", dest, humanSize(n))
				return nil
			})
		},
	}
	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to save into")

	uploadVideoCmd := &cobra.Command{
		Use:   "upload-video <path>",
		Short: "Upload a local video for start-local",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.UploadVideo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", resp.Name, humanSize(resp.Size))
				return nil
			})
		},
	}

	uploadSubCmd := &cobra.Command{
		Use:   "upload-sub <path.ass>",
		Short: "Replace the workspace subtitle with an edited .ass file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.UploadSubtitle(cmd.Context(), args[0])
				if err != nil {
					return explainAPIError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded subtitle as %s\n", resp.Name)
				return nil
			})
		},
	}

	return []*cobra.Command{filesCmd, downloadCmd, uploadVideoCmd, uploadSubCmd}
}

func humanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
