// Package host implements the host lookup commands.
package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/pkg/ipa"
)

// Cmd is the parent command for host lookups.
var Cmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect IPA host entries",
	Long: `Inspect the host entries novajoin creates for instances.

Examples:
  # Search for a host
  joincheck host find web-0.example.com

  # Show every attribute of a host
  joincheck host show web-0.example.com -o yaml

  # Wait until novajoin has enrolled a host
  joincheck host wait web-0.example.com --timeout 10m

  # Wait until a deleted instance's host is gone
  joincheck host wait web-0.example.com --removed`,
}

var (
	waitRemoved  bool
	waitInterval time.Duration
	waitTimeout  time.Duration
)

var findCmd = &cobra.Command{
	Use:   "find <fqdn>",
	Short: "Search for a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runFind,
}

var showCmd = &cobra.Command{
	Use:   "show <fqdn>",
	Short: "Show a host entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var waitCmd = &cobra.Command{
	Use:   "wait <fqdn>",
	Short: "Wait until a host is enrolled (or removed)",
	Long: `Poll the IPA server until the host exists with a keytab, or with
--removed until the host entry is gone. Transient network failures are
retried until the timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().BoolVar(&waitRemoved, "removed", false, "Wait for the host to be removed instead")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 0, "Poll interval (default: poll.interval)")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (default: poll.timeout)")

	Cmd.AddCommand(findCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(waitCmd)
}

// HostList renders host_find results.
type HostList []ipa.Entry

func (hl HostList) Headers() []string {
	return []string{"FQDN", "KEYTAB", "MANAGED BY", "DESCRIPTION"}
}

func (hl HostList) Rows() [][]string {
	rows := make([][]string, 0, len(hl))
	for _, h := range hl {
		rows = append(rows, []string{
			h.String("fqdn"),
			cmdutil.BoolToYesNo(h.Bool("has_keytab")),
			cmdutil.EmptyOr(strings.Join(h.Strings("managedby_host"), ", "), "-"),
			cmdutil.EmptyOr(h.String("description"), "-"),
		})
	}
	return rows
}

func runFind(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	res, err := client.FindHost(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to find host: %w", err)
	}
	entries, err := res.Entries()
	if err != nil {
		return err
	}
	return cmdutil.PrintOutput(HostList(entries), len(entries) == 0, "No hosts found.")
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	res, err := client.ShowHost(cmd.Context(), args[0])
	if err != nil {
		if ipa.IsNotFound(err) {
			return cmdutil.Failed("host %s not found", args[0])
		}
		return fmt.Errorf("failed to show host: %w", err)
	}
	entry, err := res.Entry()
	if err != nil {
		return err
	}
	return cmdutil.PrintOutput(output.Entry(entry), false, "")
}

func runWait(cmd *cobra.Command, args []string) error {
	v, err := cmdutil.Verifier(waitInterval, waitTimeout)
	if err != nil {
		return err
	}
	p, err := cmdutil.Printer()
	if err != nil {
		return err
	}

	host := args[0]
	if waitRemoved {
		if err := v.WaitHostRemoved(cmd.Context(), host); err != nil {
			p.Fail("host %s still registered", host)
			return err
		}
		p.Pass("host %s removed", host)
		return nil
	}

	if err := v.WaitHostEnrolled(cmd.Context(), host); err != nil {
		p.Fail("host %s not enrolled", host)
		return err
	}
	p.Pass("host %s enrolled with keytab", host)
	return nil
}
