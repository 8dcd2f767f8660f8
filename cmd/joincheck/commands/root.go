// Package commands implements the joincheck command tree.
package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	certcmd "github.com/marmos91/joincheck/cmd/joincheck/commands/cert"
	configcmd "github.com/marmos91/joincheck/cmd/joincheck/commands/config"
	haproxycmd "github.com/marmos91/joincheck/cmd/joincheck/commands/haproxy"
	hostcmd "github.com/marmos91/joincheck/cmd/joincheck/commands/host"
	servicecmd "github.com/marmos91/joincheck/cmd/joincheck/commands/service"
	verifycmd "github.com/marmos91/joincheck/cmd/joincheck/commands/verify"
	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/pkg/enrollment"
	"github.com/marmos91/joincheck/pkg/ipa"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitCheckFailed = 2
	ExitConfig      = 3
)

// skipSetup marks commands that must run without a valid configuration.
const skipSetup = "joincheck/skip-setup"

var rootCmd = &cobra.Command{
	Use:   "joincheck",
	Short: "Verify novajoin enrollment against FreeIPA",
	Long: `joincheck verifies that OpenStack instances were enrolled in (and
removed from) a FreeIPA domain by novajoin.

It talks to the IPA JSON-RPC API as the local service principal, using
the keytab and /etc/ipa/default.conf of the machine it runs on.

Use "joincheck [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for c := cmd; c != nil; c = c.Parent() {
			if c.Annotations[skipSetup] == "true" {
				return nil
			}
		}
		return cmdutil.Setup(cmd.Context(), Version)
	},
}

// Execute runs the command tree and flushes telemetry and metrics.
func Execute() error {
	ctx, cancel := signalContext()
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if serr := cmdutil.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("Shutdown incomplete", logger.KeyError, serr)
	}
	return err
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	var timeout *enrollment.TimeoutError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, cmdutil.ErrCheckFailed), errors.As(err, &timeout):
		return ExitCheckFailed
	case ipa.IsConfig(err):
		return ExitConfig
	default:
		return ExitError
	}
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cmdutil.Flags.ConfigPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/joincheck/config.yaml)")
	pf.StringVar(&cmdutil.Flags.LogLevel, "log-level", "", "Override the configured log level (DEBUG|INFO|WARN|ERROR)")
	pf.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	pf.BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")

	versionCmd.Annotations = map[string]string{skipSetup: "true"}
	configcmd.Cmd.Annotations = map[string]string{skipSetup: "true"}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(hostcmd.Cmd)
	rootCmd.AddCommand(servicecmd.Cmd)
	rootCmd.AddCommand(certcmd.Cmd)
	rootCmd.AddCommand(verifycmd.Cmd)
	rootCmd.AddCommand(haproxycmd.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
}
