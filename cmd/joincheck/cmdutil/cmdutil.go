// Package cmdutil holds the state shared by joincheck subcommands: the
// global flags, the loaded configuration, and the identity-service session.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/marmos91/joincheck/internal/cli/output"
	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
	"github.com/marmos91/joincheck/pkg/config"
	"github.com/marmos91/joincheck/pkg/enrollment"
	"github.com/marmos91/joincheck/pkg/ipa"
	"github.com/marmos91/joincheck/pkg/metrics"
	"github.com/marmos91/joincheck/pkg/remote"
)

// GlobalFlags are the persistent flags of the root command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	Output     string
	NoColor    bool
}

// Flags is populated by the root command before any subcommand runs.
var Flags GlobalFlags

var (
	mu        sync.Mutex
	cfg       *config.Config
	session   *ipa.Session
	shutdowns []func(context.Context) error

	// Stdout and Stderr are swapped by tests.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Config returns the loaded configuration, loading it on first use.
func Config() (*config.Config, error) {
	mu.Lock()
	defer mu.Unlock()
	return loadLocked()
}

func loadLocked() (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := config.MustLoad(Flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if Flags.LogLevel != "" {
		c.Logging.Level = Flags.LogLevel
	}
	cfg = c
	return cfg, nil
}

// Setup loads configuration and starts logging, tracing and metrics.
func Setup(ctx context.Context, version string) error {
	mu.Lock()
	defer mu.Unlock()

	c, err := loadLocked()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "joincheck",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	shutdowns = append(shutdowns, shutdownTracing)

	if c.Metrics.Enabled {
		metrics.InitRegistry()
		path := c.Metrics.TextfilePath
		shutdowns = append(shutdowns, func(context.Context) error {
			return metrics.WriteTextfile(path)
		})
	}

	logger.Debug("Configuration loaded",
		"source", configSource(Flags.ConfigPath),
		"telemetry", telemetry.IsEnabled(),
		"metrics", metrics.IsEnabled(),
	)
	return nil
}

// Session opens the identity-service session on first use.
func Session() (*ipa.Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if session != nil {
		return session, nil
	}
	c, err := loadLocked()
	if err != nil {
		return nil, err
	}
	s, err := ipa.Open(c.IPA, metrics.NewIPAMetrics())
	if err != nil {
		return nil, err
	}
	session = s
	return session, nil
}

// Client returns a helper client over the shared session.
func Client() (*ipa.Client, error) {
	s, err := Session()
	if err != nil {
		return nil, err
	}
	return ipa.NewClient(s), nil
}

// Verifier builds an enrollment verifier over the shared session. Zero
// durations fall back to the poll configuration.
func Verifier(interval, timeout time.Duration) (*enrollment.Verifier, error) {
	s, err := Session()
	if err != nil {
		return nil, err
	}
	c, err := Config()
	if err != nil {
		return nil, err
	}

	opts := enrollment.Options{
		Interval: c.Poll.Interval,
		Timeout:  c.Poll.Timeout,
		Domain:   s.Host().Domain,
		Realm:    s.Host().Realm,
		Metrics:  metrics.NewEnrollmentMetrics(),
	}
	if interval > 0 {
		opts.Interval = interval
	}
	if timeout > 0 {
		opts.Timeout = timeout
	}
	return enrollment.NewVerifier(ipa.NewClient(s), opts), nil
}

// SSH builds a remote executor from the ssh configuration. user overrides
// the configured login when non-empty.
func SSH(user string) (*remote.SSHExecutor, error) {
	c, err := Config()
	if err != nil {
		return nil, err
	}
	rc := remote.Config{
		User:     c.SSH.User,
		KeyPath:  c.SSH.KeyPath,
		JumpHost: c.SSH.JumpHost,
		Port:     c.SSH.Port,
		Timeout:  c.SSH.Timeout,
	}
	if user != "" {
		rc.User = user
	}
	return remote.NewSSHExecutor(rc)
}

// Shutdown closes the session and flushes telemetry and metrics. It is
// safe to call when Setup never ran.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	if session != nil {
		errs = append(errs, session.Close())
		session = nil
	}
	for i := len(shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, shutdowns[i](ctx))
	}
	shutdowns = nil
	return errors.Join(errs...)
}

// Reset forgets loaded state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cfg = nil
	session = nil
	shutdowns = nil
	Flags = GlobalFlags{}
}

// Printer returns a printer for the --output flag.
func Printer() (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(Stdout, Stderr, format, colorEnabled()), nil
}

// PrintOutput prints data, or emptyMsg in table mode when isEmpty is set.
func PrintOutput(data any, isEmpty bool, emptyMsg string) error {
	p, err := Printer()
	if err != nil {
		return err
	}
	if isEmpty && p.Format() == output.FormatTable {
		_, _ = fmt.Fprintln(Stdout, emptyMsg)
		return nil
	}
	return p.Print(data)
}

// BoolToYesNo renders a boolean for table cells.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns s, or fallback when s is empty.
func EmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func colorEnabled() bool {
	if Flags.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := Stderr.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// ErrCheckFailed is returned by commands whose checks ran but did not hold.
var ErrCheckFailed = errors.New("check failed")

// Failed wraps ErrCheckFailed with a description.
func Failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCheckFailed, fmt.Sprintf(format, args...))
}
