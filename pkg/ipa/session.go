package ipa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
	"github.com/marmos91/joincheck/pkg/auth/kerberos"
)

// DefaultAPIVersion is the version tag injected into every call.
const DefaultAPIVersion = "2.146"

// BackoffScope selects whether the backoff delay survives across calls.
type BackoffScope int

const (
	// BackoffPerCall resets the delay to the configured base at the start of every Invoke.
	BackoffPerCall BackoffScope = iota
	// BackoffPerSession carries the grown delay over to later calls.
	BackoffPerSession
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Host is the resolved identity of this machine.
	Host HostInfo

	// Auth is the credential tuple the session authenticates as.
	Auth kerberos.AuthContext

	// ConnectRetries bounds the reconnect loop when backoff is disabled.
	ConnectRetries int

	// Backoff is the initial delay in seconds. Zero disables backoff.
	Backoff int

	BackoffScope BackoffScope

	// Deadline bounds one Invoke including every retry. Zero means the
	// caller's context is the only bound.
	Deadline time.Duration

	// Version overrides DefaultAPIVersion.
	Version string

	// Sleep replaces the backoff sleep, for tests.
	Sleep SleepFunc

	Metrics Metrics
}

// Session is an authenticated client of the identity service.
//
// A Session keeps one transport connected, re-acquires credentials from the
// keytab when they are rejected, and retries network failures according to
// its backoff. It is owned by one caller and not safe for concurrent use.
type Session struct {
	transport Transport
	auth      Authenticator

	host           HostInfo
	authCtx        kerberos.AuthContext
	connectRetries int
	backoff        *Backoff
	scope          BackoffScope
	deadline       time.Duration
	version        string
	metrics        Metrics

	closers []func() error
}

// NewSession builds a session over transport. No I/O is performed.
func NewSession(cfg SessionConfig, transport Transport, auth Authenticator) *Session {
	version := cfg.Version
	if version == "" {
		version = DefaultAPIVersion
	}
	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	return &Session{
		transport:      transport,
		auth:           auth,
		host:           cfg.Host,
		authCtx:        cfg.Auth,
		connectRetries: retries,
		backoff:        NewBackoff(cfg.Backoff, cfg.Sleep),
		scope:          cfg.BackoffScope,
		deadline:       cfg.Deadline,
		version:        version,
		metrics:        cfg.Metrics,
	}
}

// Host returns the resolved host identity.
func (s *Session) Host() HostInfo {
	return s.host
}

// AuthContext returns the credential tuple the session authenticates as.
func (s *Session) AuthContext() kerberos.AuthContext {
	return s.authCtx
}

// Invoke performs op and returns its result unchanged.
//
// Unknown operations are rejected before any I/O. Credential failures
// trigger a reconnect and the identical request is re-issued. Network
// failures are retried with backoff when backoff is enabled. Every other
// failure is returned as is.
func (s *Session) Invoke(ctx context.Context, op Operation, args []any, opts map[string]any) (*Result, error) {
	if !op.Valid() {
		return nil, unknownOperation(op)
	}

	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}
	if s.scope == BackoffPerCall {
		s.backoff.Reset()
	}

	ctx, span := telemetry.StartIPASpan(ctx, op.String(),
		telemetry.IPAVersion(s.version),
		telemetry.Principal(s.authCtx.Principal),
	)
	defer span.End()

	lc := logger.NewLogContext(s.authCtx.Principal).
		WithOperation(op.String()).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	start := time.Now()
	res, err := s.invoke(ctx, op, args, opts)
	if s.metrics != nil {
		s.metrics.ObserveCall(op.String(), outcome(err), time.Since(start))
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		telemetry.SetAttributes(ctx, telemetry.IPAErrorKind(KindOf(err).String()))
		return nil, err
	}
	telemetry.SetAttributes(ctx, telemetry.IPACount(res.Count))
	return res, nil
}

func (s *Session) invoke(ctx context.Context, op Operation, args []any, opts map[string]any) (*Result, error) {
	if !s.transport.IsConnected() {
		if err := s.ensureConnected(ctx); err != nil {
			return nil, err
		}
	}

	req := newRequest(op, args, opts, s.version)
	reauths := 0

	for attempt := 1; ; attempt++ {
		res, err := s.transport.Call(ctx, req)
		if err == nil {
			logger.DebugCtx(ctx, "IPA call succeeded",
				logger.KeyAttempt, attempt,
				logger.KeyCount, res.Count,
			)
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, joinCtx(ctxErr, err))
		}

		switch {
		case IsAuth(err):
			// A server that accepts ping but rejects the call would otherwise
			// reconnect forever.
			if reauths > s.connectRetries {
				return nil, err
			}
			reauths++
			logger.DebugCtx(ctx, "IPA call rejected credentials, reconnecting",
				logger.KeyAttempt, attempt,
				logger.KeyError, err,
			)
			s.recordRetry(op, "auth")
			if cerr := s.ensureConnected(ctx); cerr != nil {
				return nil, cerr
			}

		case IsNetwork(err):
			if !s.backoff.Enabled() {
				return nil, err
			}
			logger.DebugCtx(ctx, "IPA call failed on network, backing off",
				logger.KeyAttempt, attempt,
				logger.KeyBackoff, s.backoff.Current(),
				logger.KeyError, err,
			)
			s.recordRetry(op, "network")
			if werr := s.wait(ctx); werr != nil {
				return nil, fmt.Errorf("%s: %w", op, joinCtx(werr, err))
			}

		default:
			return nil, err
		}
	}
}

func (s *Session) wait(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.ObserveBackoff(s.backoff.Current())
	}
	telemetry.AddEvent(ctx, telemetry.SpanIPABackoff, telemetry.Backoff(s.backoff.Current()))
	return s.backoff.Wait(ctx)
}

func (s *Session) recordRetry(op Operation, reason string) {
	if s.metrics != nil {
		s.metrics.RecordRetry(op.String(), reason)
	}
}

// Close disconnects the transport and releases the credentials the session owns.
func (s *Session) Close() error {
	var errs []error
	if s.transport.IsConnected() {
		errs = append(errs, s.transport.Disconnect())
	}
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}

// joinCtx reports a context error together with the failure it interrupted.
func joinCtx(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %w)", ctxErr, last)
}
