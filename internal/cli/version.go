package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/version"
)

// newVersionCmd creates the 'version' command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scp-explorer %s\n", version.Version)
			fmt.Fprintf(out, "  Built:    %s\n", version.BuildTime)
			fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
