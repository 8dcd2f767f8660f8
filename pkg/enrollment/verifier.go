package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
	"github.com/marmos91/joincheck/pkg/ipa"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// Check names, used in errors, logs and metrics.
const (
	CheckHostEnrolled     = "host_enrolled"
	CheckHostRemoved      = "host_removed"
	CheckServicesEnrolled = "services_enrolled"
	CheckServicesRemoved  = "services_removed"
	CheckCertRevoked      = "cert_revoked"
)

// Directory is the subset of the identity service the verifier queries.
// *ipa.Client implements it.
type Directory interface {
	HostRegistered(ctx context.Context, host string) (bool, error)
	HostHasKeytab(ctx context.Context, host string) (bool, error)
	ServiceExists(ctx context.Context, principal string) (bool, error)
	ServiceManagedByHost(ctx context.Context, principal, host string) (bool, error)
	CertRevoked(ctx context.Context, serial string) (bool, error)
}

// Options configures a Verifier.
type Options struct {
	// Interval between polls. Default: 5s
	Interval time.Duration
	// Timeout bounds each wait. Default: 5m
	Timeout time.Duration

	// Domain and Realm are used to expand compact services.
	Domain string
	Realm  string

	Metrics Metrics
}

// Verifier polls the identity service until an instance reaches the
// expected enrollment state.
type Verifier struct {
	dir      Directory
	interval time.Duration
	timeout  time.Duration
	domain   string
	realm    string
	metrics  Metrics
}

// NewVerifier returns a Verifier over dir.
func NewVerifier(dir Directory, opts Options) *Verifier {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Verifier{
		dir:      dir,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		domain:   opts.Domain,
		realm:    opts.Realm,
		metrics:  opts.Metrics,
	}
}

// ExpectedServices derives the services novajoin creates for host from metadata.
func (v *Verifier) ExpectedServices(host string, metadata map[string]string) (Services, error) {
	return ServicesFromMetadata(metadata, host, v.domain, v.realm)
}

// VerifyEnrolled waits until host is registered with a keytab and every
// service derived from metadata exists and is managed by host. It returns
// the services it checked so the caller can later verify their removal.
func (v *Verifier) VerifyEnrolled(ctx context.Context, host string, metadata map[string]string) (Services, error) {
	svcs, err := v.ExpectedServices(host, metadata)
	if err != nil {
		return Services{}, err
	}
	if err := v.WaitHostEnrolled(ctx, host); err != nil {
		return svcs, err
	}
	if err := v.WaitServicesEnrolled(ctx, host, svcs); err != nil {
		return svcs, err
	}
	return svcs, nil
}

// VerifyRemoved waits until host and the given services are gone.
func (v *Verifier) VerifyRemoved(ctx context.Context, host string, svcs Services) error {
	if err := v.WaitHostRemoved(ctx, host); err != nil {
		return err
	}
	return v.WaitServicesRemoved(ctx, host, svcs)
}

// WaitHostEnrolled waits until host is registered and has a keytab.
func (v *Verifier) WaitHostEnrolled(ctx context.Context, host string) error {
	return v.poll(ctx, CheckHostEnrolled, host, func(ctx context.Context) ([]string, error) {
		registered, err := v.dir.HostRegistered(ctx, host)
		if err != nil {
			return nil, err
		}
		if !registered {
			return []string{host + " not registered"}, nil
		}
		hasKeytab, err := v.dir.HostHasKeytab(ctx, host)
		if err != nil {
			return nil, err
		}
		if !hasKeytab {
			return []string{host + " has no keytab"}, nil
		}
		return nil, nil
	})
}

// WaitHostRemoved waits until no host entry matches host.
func (v *Verifier) WaitHostRemoved(ctx context.Context, host string) error {
	return v.poll(ctx, CheckHostRemoved, host, func(ctx context.Context) ([]string, error) {
		registered, err := v.dir.HostRegistered(ctx, host)
		if err != nil {
			return nil, err
		}
		if registered {
			return []string{host + " still registered"}, nil
		}
		return nil, nil
	})
}

// WaitServicesEnrolled waits until every service exists and lists host in
// its managedby_host.
func (v *Verifier) WaitServicesEnrolled(ctx context.Context, host string, svcs Services) error {
	if svcs.Empty() {
		return nil
	}
	return v.poll(ctx, CheckServicesEnrolled, host, func(ctx context.Context) ([]string, error) {
		var pending []string
		for _, principal := range svcs.All() {
			managed, err := v.dir.ServiceManagedByHost(ctx, principal, host)
			switch {
			case errors.Is(err, ipa.ErrServiceNotFound):
				pending = append(pending, principal+" missing")
			case err != nil:
				return nil, err
			case !managed:
				pending = append(pending, principal+" not managed by "+host)
			}
		}
		return pending, nil
	})
}

// WaitServicesRemoved waits until compact services are gone and managed
// services no longer list host. A managed service may outlive host when
// other hosts still manage it.
func (v *Verifier) WaitServicesRemoved(ctx context.Context, host string, svcs Services) error {
	if svcs.Empty() {
		return nil
	}
	return v.poll(ctx, CheckServicesRemoved, host, func(ctx context.Context) ([]string, error) {
		var pending []string
		for _, principal := range svcs.Compact {
			exists, err := v.dir.ServiceExists(ctx, principal)
			if err != nil {
				return nil, err
			}
			if exists {
				pending = append(pending, principal+" still exists")
			}
		}
		for _, principal := range svcs.Managed {
			managed, err := v.dir.ServiceManagedByHost(ctx, principal, host)
			switch {
			case errors.Is(err, ipa.ErrServiceNotFound):
			case err != nil:
				return nil, err
			case managed:
				pending = append(pending, principal+" still managed by "+host)
			}
		}
		return pending, nil
	})
}

// WaitCertRevoked waits until the certificate with serial is revoked.
func (v *Verifier) WaitCertRevoked(ctx context.Context, serial string) error {
	return v.poll(ctx, CheckCertRevoked, serial, func(ctx context.Context) ([]string, error) {
		revoked, err := v.dir.CertRevoked(ctx, serial)
		if err != nil {
			return nil, err
		}
		if !revoked {
			return []string{"certificate " + serial + " not revoked"}, nil
		}
		return nil, nil
	})
}

// probe reports what is still missing; an empty result means done.
type probe func(ctx context.Context) ([]string, error)

func (v *Verifier) poll(ctx context.Context, check, subject string, p probe) error {
	ctx, span := telemetry.StartEnrollmentSpan(ctx, check, subject)
	defer span.End()

	start := time.Now()
	var pending []string
	var lastErr error
	rounds := 0

	err := wait.PollUntilContextTimeout(ctx, v.interval, v.timeout, true, func(ctx context.Context) (bool, error) {
		rounds++
		if v.metrics != nil {
			v.metrics.RecordPoll(check)
		}

		missing, err := p(ctx)
		if err != nil {
			// The session already retried what it could; a network blip
			// between polls is not a verdict.
			if ipa.IsNetwork(err) {
				lastErr = err
				pending = []string{err.Error()}
				logger.DebugCtx(ctx, "Enrollment poll failed, will retry",
					logger.KeyAttempt, rounds,
					logger.KeyHost, subject,
					logger.KeyError, err,
				)
				return false, nil
			}
			return false, err
		}

		pending = missing
		if len(missing) > 0 {
			logger.DebugCtx(ctx, "Enrollment state pending",
				logger.KeyAttempt, rounds,
				logger.KeyHost, subject,
				"pending", missing,
			)
			return false, nil
		}
		return true, nil
	})

	waited := time.Since(start)
	switch {
	case err == nil:
		v.observe(check, "success", waited)
		logger.InfoCtx(ctx, "Enrollment check passed",
			logger.KeyHost, subject,
			"check", check,
			logger.KeyAttempt, rounds,
		)
		return nil

	case wait.Interrupted(err):
		v.observe(check, "timeout", waited)
		terr := &TimeoutError{Check: check, Pending: pending, Waited: waited, Err: err}
		if lastErr != nil {
			terr.Err = errors.Join(err, lastErr)
		}
		telemetry.RecordError(ctx, terr)
		return terr

	default:
		v.observe(check, "error", waited)
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("%s %s: %w", check, subject, err)
	}
}

func (v *Verifier) observe(check, outcome string, d time.Duration) {
	if v.metrics != nil {
		v.metrics.ObserveWait(check, outcome, d)
	}
}
