package main

import (
	"fmt"
	"os"

	"github.com/marmos91/joincheck/cmd/joincheck/commands"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/joincheck/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	os.Exit(run())
}

func run() int {
	err := commands.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return commands.ExitCode(err)
}
