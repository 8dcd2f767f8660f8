package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/pkg/ipa"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the IPA server answers authenticated calls",
	Long: `Connect to the IPA server as the configured service principal and
issue a ping. Authentication and reconnects follow the ipa section of the
configuration.

Examples:
  joincheck ping
  JOINCHECK_IPA_CONNECT_RETRIES=5 joincheck ping`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

type pingResult struct {
	Server    string `json:"server" yaml:"server"`
	Principal string `json:"principal" yaml:"principal"`
	Summary   string `json:"summary" yaml:"summary"`
	LatencyMs int64  `json:"latency_ms" yaml:"latency_ms"`
}

func (p pingResult) Headers() []string {
	return []string{"SERVER", "PRINCIPAL", "SUMMARY", "LATENCY"}
}

func (p pingResult) Rows() [][]string {
	return [][]string{{p.Server, p.Principal, p.Summary, fmt.Sprintf("%dms", p.LatencyMs)}}
}

func runPing(cmd *cobra.Command, args []string) error {
	session, err := cmdutil.Session()
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := ipa.NewClient(session).Ping(cmd.Context())
	if err != nil {
		return fmt.Errorf("ping %s: %w", session.Host().Server, err)
	}

	return cmdutil.PrintOutput(pingResult{
		Server:    session.Host().Server,
		Principal: session.AuthContext().Principal,
		Summary:   res.Summary,
		LatencyMs: time.Since(start).Milliseconds(),
	}, false, "")
}
