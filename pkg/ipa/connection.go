package ipa

import (
	"context"
	"fmt"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
	"github.com/marmos91/joincheck/pkg/auth/kerberos"
)

// ensureConnected resets the transport, connects, and pings. Credential
// failures re-kinit as <service>/<host>@<REALM>; network failures count
// against ConnectRetries. While backoff is enabled the loop only ends on
// success, a non-retryable error, or ctx.
func (s *Session) ensureConnected(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIPAConnect)
	defer span.End()

	tries := 0
	var lastErr error

	for tries <= s.connectRetries || s.backoff.Enabled() {
		if err := ctx.Err(); err != nil {
			return joinCtx(err, lastErr)
		}

		err := s.connectOnce(ctx)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordReconnect(true)
			}
			logger.DebugCtx(ctx, "Connected to IPA server",
				logger.KeyAttempt, tries+1,
				logger.KeyPrincipal, s.authCtx.Principal,
			)
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return joinCtx(ctxErr, err)
		}

		switch {
		case IsAuth(err):
			s.kinit(ctx)
			if tries > 0 && s.backoff.Enabled() {
				if werr := s.wait(ctx); werr != nil {
					return joinCtx(werr, err)
				}
			}
			tries++

		case IsNetwork(err):
			tries++
			if s.backoff.Enabled() {
				if werr := s.wait(ctx); werr != nil {
					return joinCtx(werr, err)
				}
			}

		default:
			if s.metrics != nil {
				s.metrics.RecordReconnect(false)
			}
			return err
		}

		logger.DebugCtx(ctx, "IPA connect attempt failed",
			logger.KeyAttempt, tries,
			logger.KeyMaxRetries, s.connectRetries,
			logger.KeyError, err,
		)
	}

	if s.metrics != nil {
		s.metrics.RecordReconnect(false)
	}
	telemetry.RecordError(ctx, lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrConnectRetriesExhausted, tries, lastErr)
}

func (s *Session) connectOnce(ctx context.Context) error {
	if s.transport.IsConnected() {
		if err := s.transport.Disconnect(); err != nil {
			logger.DebugCtx(ctx, "Disconnect before reconnect failed", logger.KeyError, err)
		}
	}
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	// Connect alone may not touch the network; ping proves the session works.
	if _, err := s.transport.Call(ctx, newRequest(OpPing, nil, nil, s.version)); err != nil {
		return err
	}
	return nil
}

// kinit refreshes credentials. Failures are logged and otherwise ignored:
// the next connect attempt reports whether the credentials work.
func (s *Session) kinit(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIPAKinit)
	defer span.End()

	principal := s.clientPrincipal()
	err := s.auth.Kinit(ctx, principal)
	if s.metrics != nil {
		s.metrics.RecordKinit(err == nil)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "kinit from keytab failed",
			logger.KeyPrincipal, principal,
			logger.KeyKeytab, s.authCtx.Keytab,
			logger.KeyError, err,
		)
	}
}

func (s *Session) clientPrincipal() string {
	if s.authCtx.Principal != "" {
		return s.authCtx.Principal
	}
	return kerberos.ServicePrincipal("nova", s.host.Host, s.host.Realm)
}
