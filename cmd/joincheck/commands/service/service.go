// Package service implements the service principal commands.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/pkg/ipa"
)

// Cmd is the parent command for service lookups.
var Cmd = &cobra.Command{
	Use:   "service",
	Short: "Inspect IPA service principals",
	Long: `Inspect the service principals novajoin creates for instance metadata.

Principals are given in full, e.g. HTTP/web-0.internalapi.example.com@EXAMPLE.COM.

Examples:
  joincheck service find HTTP/web-0.internalapi.example.com@EXAMPLE.COM
  joincheck service show HTTP/web-0.internalapi.example.com@EXAMPLE.COM
  joincheck service managed-by HTTP/vip.example.com@EXAMPLE.COM web-0.example.com
  joincheck service cert HTTP/web-0.internalapi.example.com@EXAMPLE.COM
  joincheck service find --managed-by web-0.example.com`,
}

var managedByHost string

var findCmd = &cobra.Command{
	Use:   "find [principal]",
	Short: "Search for services",
	Long: `Search for a service principal, or with --managed-by list whether a host
still manages any service.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFind,
}

var showCmd = &cobra.Command{
	Use:   "show <principal>",
	Short: "Show a service entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var managedByCmd = &cobra.Command{
	Use:   "managed-by <principal> <host>",
	Short: "Check that a host manages a service",
	Args:  cobra.ExactArgs(2),
	RunE:  runManagedBy,
}

var certCmd = &cobra.Command{
	Use:   "cert <principal>",
	Short: "Print the serial number of a service's certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  runCert,
}

func init() {
	findCmd.Flags().StringVar(&managedByHost, "managed-by", "", "Only services managed by this host")

	Cmd.AddCommand(findCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(managedByCmd)
	Cmd.AddCommand(certCmd)
}

// ServiceList renders service_find results.
type ServiceList []ipa.Entry

func (sl ServiceList) Headers() []string {
	return []string{"PRINCIPAL", "KEYTAB", "MANAGED BY", "CERT SERIAL"}
}

func (sl ServiceList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, s := range sl {
		rows = append(rows, []string{
			s.String("krbprincipalname"),
			cmdutil.BoolToYesNo(s.Bool("has_keytab")),
			cmdutil.EmptyOr(strings.Join(s.Strings("managedby_host"), ", "), "-"),
			cmdutil.EmptyOr(s.String("serial_number"), "-"),
		})
	}
	return rows
}

func runFind(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	if managedByHost != "" {
		if len(args) > 0 {
			return errors.New("--managed-by and a principal are mutually exclusive")
		}
		has, err := client.HostHasServices(cmd.Context(), managedByHost)
		if err != nil {
			return fmt.Errorf("failed to find services: %w", err)
		}
		p, err := cmdutil.Printer()
		if err != nil {
			return err
		}
		if !has {
			p.Warning("host %s manages no services", managedByHost)
			return nil
		}
		p.Pass("host %s manages services", managedByHost)
		return nil
	}

	if len(args) == 0 {
		return errors.New("a principal or --managed-by is required")
	}

	res, err := client.FindService(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to find service: %w", err)
	}
	entries, err := res.Entries()
	if err != nil {
		return err
	}
	return cmdutil.PrintOutput(ServiceList(entries), len(entries) == 0, "No services found.")
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	res, err := client.ShowService(cmd.Context(), args[0])
	if err != nil {
		if ipa.IsNotFound(err) {
			return cmdutil.Failed("service %s not found", args[0])
		}
		return fmt.Errorf("failed to show service: %w", err)
	}
	entry, err := res.Entry()
	if err != nil {
		return err
	}
	return cmdutil.PrintOutput(output.Entry(entry), false, "")
}

func runManagedBy(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}
	p, err := cmdutil.Printer()
	if err != nil {
		return err
	}

	principal, host := args[0], args[1]
	managed, err := client.ServiceManagedByHost(cmd.Context(), principal, host)
	if errors.Is(err, ipa.ErrServiceNotFound) {
		p.Fail("service %s does not exist", principal)
		return cmdutil.Failed("service %s not found", principal)
	}
	if err != nil {
		return err
	}
	if !managed {
		p.Fail("%s is not managed by %s", principal, host)
		return cmdutil.Failed("%s is not managed by %s", principal, host)
	}
	p.Pass("%s is managed by %s", principal, host)
	return nil
}

func runCert(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	serial, err := client.GetServiceCert(cmd.Context(), args[0])
	if errors.Is(err, ipa.ErrServiceNotFound) {
		return cmdutil.Failed("service %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if serial == "" {
		return cmdutil.Failed("service %s has no certificate", args[0])
	}
	_, _ = fmt.Fprintln(cmdutil.Stdout, serial)
	return nil
}
