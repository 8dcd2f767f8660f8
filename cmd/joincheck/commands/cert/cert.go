// Package cert implements the certificate commands.
package cert

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/pkg/ipa"
)

// Cmd is the parent command for certificate lookups.
var Cmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect certificates issued by the IPA CA",
	Long: `Inspect certificates issued to enrolled services.

Examples:
  # Show a certificate by serial number
  joincheck cert show 12

  # Wait until a deleted instance's certificate is revoked
  joincheck cert wait-revoked 12 --timeout 5m`,
}

var showCmd = &cobra.Command{
	Use:   "show <serial>",
	Short: "Show a certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	revokedInterval time.Duration
	revokedTimeout  time.Duration
)

var waitRevokedCmd = &cobra.Command{
	Use:   "wait-revoked <serial>",
	Short: "Wait until a certificate is revoked",
	Args:  cobra.ExactArgs(1),
	RunE:  runWaitRevoked,
}

func init() {
	waitRevokedCmd.Flags().DurationVar(&revokedInterval, "interval", 0, "Poll interval (default: poll.interval)")
	waitRevokedCmd.Flags().DurationVar(&revokedTimeout, "timeout", 0, "Give up after this long (default: poll.timeout)")

	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(waitRevokedCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	res, err := client.ShowCert(cmd.Context(), args[0])
	if err != nil {
		if ipa.IsNotFound(err) {
			return cmdutil.Failed("certificate %s not found", args[0])
		}
		return fmt.Errorf("failed to show certificate: %w", err)
	}
	entry, err := res.Entry()
	if err != nil {
		return err
	}
	return cmdutil.PrintOutput(output.Entry(entry), false, "")
}

func runWaitRevoked(cmd *cobra.Command, args []string) error {
	v, err := cmdutil.Verifier(revokedInterval, revokedTimeout)
	if err != nil {
		return err
	}
	p, err := cmdutil.Printer()
	if err != nil {
		return err
	}

	if err := v.WaitCertRevoked(cmd.Context(), args[0]); err != nil {
		p.Fail("certificate %s not revoked", args[0])
		return err
	}
	p.Pass("certificate %s revoked", args[0])
	return nil
}
