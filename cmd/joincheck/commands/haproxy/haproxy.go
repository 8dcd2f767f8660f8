// Package haproxy implements the overcloud HAProxy TLS check.
package haproxy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/pkg/haproxy"
	"github.com/marmos91/joincheck/pkg/remote"
)

// Cmd is the parent command for HAProxy checks.
var Cmd = &cobra.Command{
	Use:   "haproxy",
	Short: "Check HAProxy endpoints on overcloud controllers",
}

var (
	controllers []string
	skip        []string
	probe       bool
)

var checkCmd = &cobra.Command{
	Use:   "check [haproxy.cfg]",
	Short: "Check that every HAProxy endpoint enables TLS",
	Long: `Parse haproxy.cfg and report every bind or server line that does not
enable ssl. With no file argument the configuration is read over SSH from
each controller in tripleo.controllers (or --controller).

With --probe, each TLS endpoint is also dialed from its controller with
openssl s_client and must verify against the IPA CA.

Examples:
  # Check a local copy
  joincheck haproxy check ./haproxy.cfg

  # Check every configured controller, ignoring the stats page
  joincheck haproxy check --skip haproxy.stats

  # Check one controller and probe its TLS endpoints
  joincheck haproxy check --controller 192.168.24.10 --probe`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringArrayVar(&controllers, "controller", nil, "Controller address (default: tripleo.controllers)")
	checkCmd.Flags().StringArrayVar(&skip, "skip", nil, "listen section to ignore")
	checkCmd.Flags().BoolVar(&probe, "probe", false, "Dial TLS endpoints from the controller")

	Cmd.AddCommand(checkCmd)
}

// Result lists the endpoints that failed per source.
type Result struct {
	Source   string             `json:"source" yaml:"source"`
	Plain    []haproxy.Endpoint `json:"plain" yaml:"plain"`
	Unprobed []string           `json:"failed_probes,omitempty" yaml:"failed_probes,omitempty"`
}

// Results renders a Result per controller.
type Results []Result

func (rs Results) Headers() []string {
	return []string{"SOURCE", "SERVICE", "ADDRESS", "PROBLEM"}
}

func (rs Results) Rows() [][]string {
	var rows [][]string
	for _, r := range rs {
		for _, ep := range r.Plain {
			rows = append(rows, []string{r.Source, ep.Service, ep.HostPort, "no ssl"})
		}
		for _, hp := range r.Unprobed {
			rows = append(rows, []string{r.Source, "-", hp, "tls handshake failed"})
		}
	}
	return rows
}

func (rs Results) empty() bool {
	for _, r := range rs {
		if len(r.Plain) > 0 || len(r.Unprobed) > 0 {
			return false
		}
	}
	return true
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var results Results
	if len(args) == 1 {
		if probe {
			return errors.New("--probe needs a controller, not a local file")
		}
		cfg, err := haproxy.ParseFile(args[0])
		if err != nil {
			return err
		}
		r, err := check(ctx, args[0], cfg, nil)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		rs, err := checkControllers(ctx)
		if err != nil {
			return err
		}
		results = rs
	}

	if err := cmdutil.PrintOutput(results, results.empty(), "All HAProxy endpoints use TLS."); err != nil {
		return err
	}
	if !results.empty() {
		return cmdutil.Failed("HAProxy endpoints without TLS")
	}
	return nil
}

func checkControllers(ctx context.Context) (Results, error) {
	cfg, err := cmdutil.Config()
	if err != nil {
		return nil, err
	}
	targets := controllers
	if len(targets) == 0 {
		targets = cfg.TripleO.Controllers
	}
	if len(targets) == 0 {
		return nil, errors.New("no controllers: pass a haproxy.cfg, --controller, or set tripleo.controllers")
	}

	ssh, err := cmdutil.SSH(cfg.TripleO.ControllerUser)
	if err != nil {
		return nil, err
	}

	results := make(Results, 0, len(targets))
	for _, host := range targets {
		raw, err := remote.ReadFile(ctx, ssh, host, cfg.TripleO.HAProxyConfig)
		if err != nil {
			return nil, fmt.Errorf("read haproxy config on %s: %w", host, err)
		}
		parsed, err := haproxy.Parse(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
		var runner remote.Runner
		if probe {
			runner = ssh
		}
		r, err := check(ctx, host, parsed, runner)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// check reports plain endpoints and, when runner is set, TLS endpoints
// that fail a verified handshake from source.
func check(ctx context.Context, source string, cfg *haproxy.Config, runner remote.Runner) (Result, error) {
	plain, err := cfg.CheckTLS(skip...)
	if err != nil {
		return Result{}, err
	}
	r := Result{Source: source, Plain: plain}
	if runner == nil {
		return r, nil
	}

	endpoints, err := cfg.Endpoints()
	if err != nil {
		return Result{}, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	for _, ep := range endpoints {
		if !ep.TLS || skipped[ep.Service] {
			continue
		}
		ok, err := remote.TLSConnection(ctx, runner, source, ep.HostPort, remote.DefaultCAFile)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			r.Unprobed = append(r.Unprobed, ep.HostPort)
		}
	}
	return r, nil
}

var _ output.TableRenderer = Results(nil)
