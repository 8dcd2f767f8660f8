// Package verify implements the end-to-end enrollment checks.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/pkg/enrollment"
	"github.com/marmos91/joincheck/pkg/openstack"
	"github.com/marmos91/joincheck/pkg/remote"
)

// Cmd is the parent command for enrollment verification.
var Cmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that an instance was enrolled or removed",
	Long: `Verify the full novajoin lifecycle of an instance.

"enrolled" reads the instance metadata from OpenStack (or --metadata)
and derives the expected service principals, then waits until the host
and every service exist in IPA. When the metadata does not set
ipa_enroll, the properties of the instance's image are used instead. "removed" waits until they are gone.

Examples:
  # Verify a running instance by name
  joincheck verify enrolled web-0

  # Also check the guest over SSH
  joincheck verify enrolled web-0 --ssh --cert-cn web-0.internalapi.example.com

  # Verify without OpenStack access
  joincheck verify enrolled web-0 --metadata ipa_enroll=True \
      --metadata 'compact_services={"HTTP": ["internalapi"]}'

  # Verify a deleted instance was cleaned up
  joincheck verify removed web-0 --metadata 'compact_services={"HTTP": ["internalapi"]}'`,
}

type flags struct {
	fqdn     string
	metadata []string
	interval time.Duration
	timeout  time.Duration
}

var (
	enrolledFlags flags
	removedFlags  flags

	checkSSH bool
	sshUser  string
	certCNs  []string
	tlsPorts []string
	serials  []string
)

var enrolledCmd = &cobra.Command{
	Use:   "enrolled <instance>",
	Short: "Verify an instance's host and services are enrolled",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrolled,
}

var removedCmd = &cobra.Command{
	Use:   "removed <instance>",
	Short: "Verify a deleted instance's host and services are removed",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoved,
}

func addCommon(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVar(&f.fqdn, "fqdn", "", "Host FQDN (default: <instance>.<ipa domain>)")
	cmd.Flags().StringArrayVar(&f.metadata, "metadata", nil, "Instance metadata key=value; skips the OpenStack lookup")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Poll interval (default: poll.interval)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Give up after this long (default: poll.timeout)")
}

func init() {
	addCommon(enrolledCmd, &enrolledFlags)
	enrolledCmd.Flags().BoolVar(&checkSSH, "ssh", false, "Also check the guest over SSH")
	enrolledCmd.Flags().StringVar(&sshUser, "ssh-user", "", "SSH user (default: ssh.user)")
	enrolledCmd.Flags().StringArrayVar(&certCNs, "cert-cn", nil, "Certificate CN certmonger must track on the guest (with --ssh)")
	enrolledCmd.Flags().StringArrayVar(&tlsPorts, "tls", nil, "host:port the guest must reach over verified TLS (with --ssh)")

	addCommon(removedCmd, &removedFlags)
	removedCmd.Flags().StringArrayVar(&serials, "revoked-serial", nil, "Certificate serial that must be revoked")

	Cmd.AddCommand(enrolledCmd)
	Cmd.AddCommand(removedCmd)
}

// Report is the outcome of every check run by one verify command.
type Report struct {
	Host    string   `json:"host" yaml:"host"`
	Checks  []Check  `json:"checks" yaml:"checks"`
	Compact []string `json:"compact_services,omitempty" yaml:"compact_services,omitempty"`
	Managed []string `json:"managed_services,omitempty" yaml:"managed_services,omitempty"`
}

// Check is one line of a Report.
type Check struct {
	Name    string `json:"name" yaml:"name"`
	Subject string `json:"subject" yaml:"subject"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (r *Report) Headers() []string {
	return []string{"CHECK", "SUBJECT", "RESULT", "DETAIL"}
}

func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		result := "pass"
		if !c.Passed {
			result = "FAIL"
		}
		rows = append(rows, []string{c.Name, c.Subject, result, cmdutil.EmptyOr(c.Detail, "-")})
	}
	return rows
}

func (r *Report) add(name, subject string, err error) bool {
	c := Check{Name: name, Subject: subject, Passed: err == nil}
	if err != nil {
		c.Detail = err.Error()
	}
	r.Checks = append(r.Checks, c)
	return c.Passed
}

func (r *Report) failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name+" "+c.Subject)
		}
	}
	return out
}

func (r *Report) finish() error {
	if err := cmdutil.PrintOutput(r, false, ""); err != nil {
		return err
	}
	if failed := r.failed(); len(failed) > 0 {
		return cmdutil.Failed("%s", strings.Join(failed, "; "))
	}
	return nil
}

// instance is what verify needs to know about the guest.
type instance struct {
	fqdn     string
	address  string
	metadata map[string]string
}

func resolveInstance(ctx context.Context, name string, f flags, needAddress bool) (*instance, error) {
	session, err := cmdutil.Session()
	if err != nil {
		return nil, err
	}

	inst := &instance{fqdn: f.fqdn}
	if inst.fqdn == "" {
		inst.fqdn = name
		if !strings.Contains(name, ".") {
			inst.fqdn = name + "." + session.Host().Domain
		}
	}

	if len(f.metadata) > 0 {
		md, err := parseMetadata(f.metadata)
		if err != nil {
			return nil, err
		}
		inst.metadata = md
		inst.address = inst.fqdn
		return inst, nil
	}

	cfg, err := cmdutil.Config()
	if err != nil {
		return nil, err
	}
	cloud, err := openstack.NewFromEnv(ctx, cfg.OpenStack, cfg.Poll)
	if err != nil {
		return nil, err
	}
	server, err := cloud.FindServer(ctx, name)
	if err != nil {
		return nil, err
	}
	md, err := cloud.Metadata(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	if !enrollment.EnrollRequested(md) {
		props, err := cloud.ImageProperties(ctx, server)
		if err != nil {
			return nil, err
		}
		md = enrollment.WithImageProperties(md, props)
	}
	inst.metadata = md

	if needAddress {
		addr, err := cloud.Address(server, "")
		if err != nil {
			return nil, err
		}
		inst.address = addr
	}

	logger.DebugCtx(ctx, "Instance resolved",
		logger.KeyHost, inst.fqdn,
		logger.KeyAddress, inst.address,
		"metadata_keys", len(md),
	)
	return inst, nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	md := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", p)
		}
		md[k] = v
	}
	return md, nil
}

func runEnrolled(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	inst, err := resolveInstance(ctx, args[0], enrolledFlags, checkSSH)
	if err != nil {
		return err
	}
	if !enrollment.EnrollRequested(inst.metadata) {
		return cmdutil.Failed("instance %s did not request enrollment (%s is not true)", args[0], enrollment.MetaEnroll)
	}

	v, err := cmdutil.Verifier(enrolledFlags.interval, enrolledFlags.timeout)
	if err != nil {
		return err
	}

	report := &Report{Host: inst.fqdn}
	svcs, err := v.ExpectedServices(inst.fqdn, inst.metadata)
	if err != nil {
		return err
	}
	report.Compact, report.Managed = svcs.Compact, svcs.Managed

	if !report.add(enrollment.CheckHostEnrolled, inst.fqdn, v.WaitHostEnrolled(ctx, inst.fqdn)) {
		return report.finish()
	}
	if !svcs.Empty() {
		report.add(enrollment.CheckServicesEnrolled, fmt.Sprintf("%d services", len(svcs.All())),
			v.WaitServicesEnrolled(ctx, inst.fqdn, svcs))
	}

	if checkSSH {
		if err := runGuestChecks(ctx, report, inst); err != nil {
			return err
		}
	}
	return report.finish()
}

func runGuestChecks(ctx context.Context, report *Report, inst *instance) error {
	ssh, err := cmdutil.SSH(sshUser)
	if err != nil {
		return err
	}

	report.add("ipa_client", inst.address, boolCheck(remote.HostIsIPAClient(ctx, ssh, inst.address)))
	for _, cn := range certCNs {
		report.add("cert_tracked", cn, boolCheck(remote.CertTracked(ctx, ssh, inst.address, cn)))
	}
	for _, hp := range tlsPorts {
		report.add("tls", hp, boolCheck(remote.TLSConnection(ctx, ssh, inst.address, hp, remote.DefaultCAFile)))
	}
	return nil
}

func boolCheck(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not satisfied")
	}
	return nil
}

func runRemoved(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	f := removedFlags
	session, err := cmdutil.Session()
	if err != nil {
		return err
	}

	fqdn := f.fqdn
	if fqdn == "" {
		fqdn = args[0]
		if !strings.Contains(fqdn, ".") {
			fqdn += "." + session.Host().Domain
		}
	}
	md, err := parseMetadata(f.metadata)
	if err != nil {
		return err
	}

	v, err := cmdutil.Verifier(f.interval, f.timeout)
	if err != nil {
		return err
	}
	svcs, err := v.ExpectedServices(fqdn, md)
	if err != nil {
		return err
	}

	report := &Report{Host: fqdn, Compact: svcs.Compact, Managed: svcs.Managed}
	report.add(enrollment.CheckHostRemoved, fqdn, v.WaitHostRemoved(ctx, fqdn))
	if !svcs.Empty() {
		report.add(enrollment.CheckServicesRemoved, fmt.Sprintf("%d services", len(svcs.All())),
			v.WaitServicesRemoved(ctx, fqdn, svcs))
	}
	for _, serial := range serials {
		report.add(enrollment.CheckCertRevoked, serial, v.WaitCertRevoked(ctx, serial))
	}
	return report.finish()
}

var _ output.TableRenderer = (*Report)(nil)
