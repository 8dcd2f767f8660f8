// Package remote runs verification commands on guests and controllers over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 30 * time.Second
)

// Config configures an SSHExecutor.
type Config struct {
	User    string
	KeyPath string

	// JumpHost is an optional bastion, host[:port]. Targets are reached
	// through a TCP forward on it.
	JumpHost string

	// Port is used for targets given without one. Default: 22
	Port int

	// Timeout bounds dialing and the SSH handshake. Default: 30s
	Timeout time.Duration
}

// Result is the outcome of one remote command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Runner runs a command on host.
type Runner interface {
	Run(ctx context.Context, host, command string) (*Result, error)
}

// CommandError is returned when a command ran but exited nonzero. The
// Result is returned alongside it.
type CommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %q exited with status %d: %s", e.Host, e.Command, e.ExitStatus, e.Stderr)
}

// SSHExecutor is a Runner over SSH with public-key authentication.
type SSHExecutor struct {
	config  *ssh.ClientConfig
	jump    string
	port    int
	timeout time.Duration
}

// NewSSHExecutor reads the private key and prepares the client configuration.
// No connection is made.
func NewSSHExecutor(cfg Config) (*SSHExecutor, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.KeyPath == "" {
		return nil, errors.New("ssh key path is required")
	}

	pemBytes, err := os.ReadFile(cfg.KeyPath) // #nosec G304 -- operator supplied
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyPath, err)
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &SSHExecutor{
		config: &ssh.ClientConfig{
			User: cfg.User,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			// Guests are created by the run under test; their host keys
			// cannot be known in advance.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
			Timeout:         cfg.Timeout,
		},
		jump:    cfg.JumpHost,
		port:    cfg.Port,
		timeout: cfg.Timeout,
	}, nil
}

// Run executes command on host and collects its output. A nonzero exit
// status yields both the Result and a *CommandError.
func (e *SSHExecutor) Run(ctx context.Context, host, command string) (*Result, error) {
	addr := e.address(host)

	ctx, span := telemetry.StartSSHSpan(ctx, addr, command)
	defer span.End()

	client, closeFn, err := e.dial(ctx, addr)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer closeFn()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session on %s: %w", addr, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("start %q on %s: %w", command, addr, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, fmt.Errorf("%q on %s: %w", command, addr, ctx.Err())
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	logger.DebugCtx(ctx, "Remote command finished",
		logger.KeyAddress, addr,
		logger.KeyCommand, command,
		logger.KeyDuration, logger.Duration(start),
	)

	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			telemetry.SetAttributes(ctx, telemetry.SSHExit(res.ExitStatus))
			return res, &CommandError{Host: addr, Command: command, ExitStatus: res.ExitStatus, Stderr: res.Stderr}
		}
		return nil, fmt.Errorf("%q on %s: %w", command, addr, waitErr)
	}

	telemetry.SetAttributes(ctx, telemetry.SSHExit(0))
	return res, nil
}

func (e *SSHExecutor) address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(e.port))
}

// dial connects to addr, through the jump host when one is configured.
func (e *SSHExecutor) dial(ctx context.Context, addr string) (*ssh.Client, func(), error) {
	d := net.Dialer{Timeout: e.timeout}

	if e.jump == "" {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		client, err := e.handshake(conn, addr)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	jumpAddr := e.address(e.jump)
	jconn, err := d.DialContext(ctx, "tcp", jumpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial jump host %s: %w", jumpAddr, err)
	}
	jump, err := e.handshake(jconn, jumpAddr)
	if err != nil {
		return nil, nil, err
	}

	conn, err := jump.DialContext(ctx, "tcp", addr)
	if err != nil {
		_ = jump.Close()
		return nil, nil, fmt.Errorf("dial %s via %s: %w", addr, jumpAddr, err)
	}
	client, err := e.handshake(conn, addr)
	if err != nil {
		_ = jump.Close()
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		_ = jump.Close()
	}, nil
}

func (e *SSHExecutor) handshake(conn net.Conn, addr string) (*ssh.Client, error) {
	if e.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(e.timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, e.config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
