package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/output"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the file, JOINCHECK_*
environment overrides and defaults. Table output falls back to YAML.`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.Config()
	if err != nil {
		return err
	}
	p, err := cmdutil.Printer()
	if err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
	return p.Print(cfg)
}
