package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/joincheck/cmd/joincheck/cmdutil"
	"github.com/marmos91/joincheck/internal/cli/prompt"
	"github.com/marmos91/joincheck/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write a commented sample configuration to --config (default:
$XDG_CONFIG_HOME/joincheck/config.yaml). With --interactive, the IPA and
SSH settings are asked for and the result is written without comments.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	out := cmd.OutOrStdout()

	if !initInteractive {
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
		_, _ = fmt.Fprintln(out, "\nNext steps:")
		_, _ = fmt.Fprintln(out, "  1. Check the ipa section matches this host's keytab and principal")
		_, _ = fmt.Fprintln(out, "  2. Run: joincheck ping")
		return nil
	}

	if !initForce && fileExists(path) {
		ok, err := prompt.Confirm(fmt.Sprintf("%s exists, overwrite", path), false)
		if err != nil {
			return err
		}
		if !ok {
			return prompt.ErrAborted
		}
	}

	cfg, err := ask()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	return nil
}

func ask() (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	var err error

	if cfg.IPA.Keytab, err = prompt.Input("Keytab", cfg.IPA.Keytab, prompt.ExistingFile); err != nil {
		return nil, err
	}
	if cfg.IPA.ConfigPath, err = prompt.Input("IPA client config", cfg.IPA.ConfigPath, prompt.ExistingFile); err != nil {
		return nil, err
	}
	if cfg.IPA.Service, err = prompt.Input("Service principal primary", cfg.IPA.Service, prompt.Required); err != nil {
		return nil, err
	}
	if cfg.IPA.ConnectRetries, err = prompt.InputInt("Connect retries", cfg.IPA.ConnectRetries, 0, 100); err != nil {
		return nil, err
	}
	if cfg.IPA.Backoff, err = prompt.InputInt("Initial backoff in seconds (0 disables)", cfg.IPA.Backoff, 0, math.MaxInt32); err != nil {
		return nil, err
	}
	if cfg.IPA.Backoff > 0 {
		if cfg.IPA.BackoffScope, err = prompt.Select("Backoff scope", []string{config.BackoffScopeCall, config.BackoffScopeSession}); err != nil {
			return nil, err
		}
		deadline, err := prompt.Input("Deadline per call", "5m", prompt.Required)
		if err != nil {
			return nil, err
		}
		if cfg.IPA.Deadline, err = parseDuration(deadline); err != nil {
			return nil, err
		}
	}
	if cfg.SSH.User, err = prompt.Input("SSH user", cfg.SSH.User, prompt.Required); err != nil {
		return nil, err
	}
	key, err := prompt.Input("SSH private key (empty for none)", cfg.SSH.KeyPath, nil)
	if err != nil {
		return nil, err
	}
	cfg.SSH.KeyPath = strings.TrimSpace(key)

	return cfg, nil
}
