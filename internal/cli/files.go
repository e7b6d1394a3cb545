package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/localfs"
	"github.com/houzin/scp-explorer/internal/pathutil"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var (
		conn     connectFlags
		local    bool
		hideDots bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote or local directory",
		Long: `List a directory. A remote path that does not exist lists "/" instead.
With --local the path is on this machine; an empty path lists the home
directory, or the drive roots on Windows.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			out := cmd.OutOrStdout()

			if local {
				entries, actual, err := localfs.List(path, localfs.ListOptions{HideDotFiles: hideDots})
				if err != nil {
					return err
				}
				if asJSON {
					return renderJSON(out, map[string]any{"path": actual, "files": entries})
				}
				fmt.Fprintln(out, actual)
				return renderEntries(out, entries)
			}

			s, err := connectStack(commandContext(cmd), cmd.ErrOrStderr(), &conn)
			if err != nil {
				return err
			}
			defer s.Close()

			if path == "" {
				path = "/"
			}
			entries, actual, err := s.files.ListRemote(commandContext(cmd), path)
			if err != nil {
				return err
			}
			if actual != pathutil.NormalizeRemote(path) {
				warnColor.Fprintf(cmd.ErrOrStderr(), "%s not found, listing %s\n", path, actual)
			}
			if asJSON {
				return renderJSON(out, map[string]any{"path": actual, "files": entries})
			}
			fmt.Fprintln(out, actual)
			return renderEntries(out, entries)
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVarP(&local, "local", "l", false, "List a local directory")
	cmd.Flags().BoolVar(&hideDots, "hide-dot-files", false, "Hide names starting with '.' (local only)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	return cmd
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	var (
		conn  connectFlags
		local bool
	)

	cmd := &cobra.Command{
		Use:   "mkdir <parent> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				full string
				err  error
			)
			if local {
				full, err = localfs.CreateFolder(args[0], args[1])
			} else {
				s, cerr := connectStack(commandContext(cmd), cmd.ErrOrStderr(), &conn)
				if cerr != nil {
					return cerr
				}
				defer s.Close()
				full, err = s.files.CreateFolder(commandContext(cmd), args[0], args[1], false)
			}
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Created %s\n", full)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVarP(&local, "local", "l", false, "Create the folder on this machine")
	return cmd
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var (
		conn  connectFlags
		local bool
	)

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long:  `Delete a file, or a folder and everything in it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if local {
				fi, err := os.Stat(pathutil.NormalizeLocal(path))
				if err != nil {
					return err
				}
				if err := localfs.Delete(path, fi.IsDir()); err != nil {
					return err
				}
			} else {
				ctx := commandContext(cmd)
				s, err := connectStack(ctx, cmd.ErrOrStderr(), &conn)
				if err != nil {
					return err
				}
				defer s.Close()
				fi, err := s.files.Stat(ctx, path)
				if err != nil {
					return err
				}
				if err := s.files.Delete(ctx, path, fi.IsDir, false); err != nil {
					return err
				}
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", path)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVarP(&local, "local", "l", false, "Delete on this machine")
	return cmd
}

// newMvCmd creates the 'mv' command.
func newMvCmd() *cobra.Command {
	var (
		conn  connectFlags
		local bool
	)

	cmd := &cobra.Command{
		Use:   "mv <old-path> <new-path>",
		Short: "Rename or move a file or folder",
		Long:  `Rename or move a file or folder. An existing target is never overwritten.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				if err := localfs.Rename(args[0], args[1]); err != nil {
					return err
				}
			} else {
				ctx := commandContext(cmd)
				s, err := connectStack(ctx, cmd.ErrOrStderr(), &conn)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.files.Rename(ctx, args[0], args[1], false); err != nil {
					return err
				}
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", args[0], args[1])
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVarP(&local, "local", "l", false, "Rename on this machine")
	return cmd
}
