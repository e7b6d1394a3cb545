package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/localfs"
	"github.com/houzin/scp-explorer/internal/progress"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/transfer"
)

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	var (
		conn connectFlags
		mode string
	)

	cmd := &cobra.Command{
		Use:   "put <local-path>... <remote-dir>",
		Short: "Upload files and folders",
		Long: `Upload local files and folders into a remote directory. Folders are
copied recursively; existing files are overwritten, but a file never
replaces a folder of the same name or the other way round.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, dest := args[:len(args)-1], args[len(args)-1]

			stats, err := localfs.Measure(sources)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			s, err := connectStack(ctx, cmd.ErrOrStderr(), &conn)
			if err != nil {
				return err
			}
			defer s.Close()

			ui := progress.New(progress.Mode(mode), transfer.Upload, stats.Files, stats.Bytes)
			return runTransfer(cmd.OutOrStdout(), ui, transfer.Upload, dest, func(fn transfer.ProgressFunc) error {
				return s.files.Upload(ctx, sources, dest, fn)
			})
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&mode, "progress", string(progress.ModeBars), "Progress display: bars, simple or none")
	return cmd
}

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var (
		conn connectFlags
		mode string
	)

	cmd := &cobra.Command{
		Use:   "get <remote-path>... <local-dir>",
		Short: "Download files and folders",
		Long: `Download remote files and folders into a local directory. The local
volume is checked for enough free space first.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, dest := args[:len(args)-1], args[len(args)-1]

			ctx := commandContext(cmd)
			s, err := connectStack(ctx, cmd.ErrOrStderr(), &conn)
			if err != nil {
				return err
			}
			defer s.Close()

			// Folder sizes are only known once walked.
			var files int
			var bytes int64
			for _, p := range sources {
				fi, err := s.files.Stat(ctx, p)
				if err != nil {
					return err
				}
				if !fi.IsDir {
					files++
					bytes += fi.Size
				}
			}

			ui := progress.New(progress.Mode(mode), transfer.Download, files, bytes)
			return runTransfer(cmd.OutOrStdout(), ui, transfer.Download, dest, func(fn transfer.ProgressFunc) error {
				return s.files.Download(ctx, sources, dest, fn)
			})
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&mode, "progress", string(progress.ModeBars), "Progress display: bars, simple or none")
	return cmd
}

// runTransfer drives one task through ui and reports its outcome.
func runTransfer(out io.Writer, ui progress.UI, dir transfer.Direction, dest string, run func(transfer.ProgressFunc) error) error {
	log := GetLogger()
	if ui.IsTerminal() {
		prev := log.Output()
		log.SetOutput(ui.Writer())
		defer log.SetOutput(prev)
	}

	err := run(ui.Observe)
	ui.Finish(err)

	switch {
	case err == nil:
		if !ui.IsTerminal() {
			successColor.Fprintf(out, "%s complete: %s\n", directionTitle(dir), dest)
		}
		return nil
	case remote.IsCancelled(err):
		warnColor.Fprintln(out, "Transfer cancelled")
		return context.Canceled
	case remote.IsWarning(err):
		warnColor.Fprintln(out, err.Error())
		return err
	}
	return fmt.Errorf("%s failed: %w", dir, err)
}

func directionTitle(dir transfer.Direction) string {
	if dir == transfer.Download {
		return "Download"
	}
	return "Upload"
}
