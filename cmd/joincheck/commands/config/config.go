// Package config implements configuration management commands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage the joincheck configuration file.

Examples:
  # Write a sample configuration
  joincheck config init

  # Answer a few questions instead
  joincheck config init --interactive

  # Show the effective configuration (file + env + defaults)
  joincheck config show

  # Validate a configuration file
  joincheck config validate --config /etc/joincheck/config.yaml

  # Generate a JSON schema for editor completion
  joincheck config schema --file config.schema.json`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
}
