package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the joincheck configuration file.

Checks for syntax errors, missing required fields, and invalid values,
then warns about settings that are valid but likely to fail at runtime.

Examples:
  joincheck config validate
  joincheck config validate --config /etc/joincheck/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.Config()
	if err != nil {
		return err
	}

	displayPath := cmdutil.Flags.ConfigPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := warningsFor(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Keytab:          %s\n", cfg.IPA.Keytab)
	_, _ = fmt.Fprintf(out, "  Principal:       %s/<host>@<realm>\n", cfg.IPA.Service)
	_, _ = fmt.Fprintf(out, "  Connect retries: %d\n", cfg.IPA.ConnectRetries)
	_, _ = fmt.Fprintf(out, "  Backoff:         %ds (%s)\n", cfg.IPA.Backoff, cfg.IPA.BackoffScope)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

func warningsFor(cfg *config.Config) []string {
	var warnings []string
	if !fileExists(cfg.IPA.Keytab) {
		warnings = append(warnings, fmt.Sprintf("keytab %s does not exist", cfg.IPA.Keytab))
	}
	if !fileExists(cfg.IPA.ConfigPath) {
		warnings = append(warnings, fmt.Sprintf("IPA client config %s does not exist", cfg.IPA.ConfigPath))
	}
	if !cfg.IPA.InsecureTLS && cfg.IPA.CACert != "" && !fileExists(cfg.IPA.CACert) {
		warnings = append(warnings, fmt.Sprintf("CA bundle %s does not exist", cfg.IPA.CACert))
	}
	if cfg.IPA.InsecureTLS {
		warnings = append(warnings, "insecure_tls disables server certificate verification")
	}
	if cfg.SSH.KeyPath != "" && !fileExists(cfg.SSH.KeyPath) {
		warnings = append(warnings, fmt.Sprintf("SSH key %s does not exist", cfg.SSH.KeyPath))
	}
	return warnings
}
