package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/pkg/ipa"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the joincheck version, build information, and the IPA API version it requests.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			_, _ = fmt.Fprintln(out, Version)
			return
		}

		_, _ = fmt.Fprintf(out, "joincheck %s\n", Version)
		_, _ = fmt.Fprintf(out, "  Commit:      %s\n", Commit)
		_, _ = fmt.Fprintf(out, "  Built:       %s\n", Date)
		_, _ = fmt.Fprintf(out, "  IPA API:     %s\n", ipa.DefaultAPIVersion)
		_, _ = fmt.Fprintf(out, "  Go version:  %s\n", runtime.Version())
		_, _ = fmt.Fprintf(out, "  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
}
