package ipa

import (
	"errors"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/pkg/auth/kerberos"
	"github.com/marmos91/joincheck/pkg/config"
)

// Open builds a Session from configuration. Only local state is touched:
// the keytab is checked first, then the identity config is read, then the
// Kerberos environment is bound. The first network activity happens on the
// first Invoke.
func Open(cfg config.IPAConfig, m Metrics) (*Session, error) {
	cache, err := kerberos.NewCredentialCache(kerberos.Options{
		KeytabPath:   cfg.Keytab,
		Krb5ConfPath: cfg.Krb5Conf,
		PollInterval: cfg.KeytabPollInterval,
	})
	if err != nil {
		var ktErr *kerberos.KeytabError
		if errors.As(err, &ktErr) {
			return nil, configError("keytab unusable", err)
		}
		return nil, configError("kerberos setup", err)
	}

	host, err := LoadHostInfo(cfg.ConfigPath)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	baseURL, err := host.ServerURL(cfg.Server)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	if err := cache.BindEnvironment(); err != nil {
		_ = cache.Close()
		return nil, configError("bind kerberos environment", err)
	}

	transport, err := NewJSONRPCTransport(JSONRPCConfig{
		BaseURL:     baseURL,
		CACert:      cfg.CACert,
		InsecureTLS: cfg.InsecureTLS,
	}, cache)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	scope := BackoffPerCall
	if cfg.BackoffScope == config.BackoffScopeSession {
		scope = BackoffPerSession
	}

	principal := kerberos.ServicePrincipal(cfg.Service, host.Host, host.Realm)

	s := NewSession(SessionConfig{
		Host:           host,
		Auth:           cache.AuthContext(principal),
		ConnectRetries: cfg.ConnectRetries,
		Backoff:        cfg.Backoff,
		BackoffScope:   scope,
		Deadline:       cfg.Deadline,
		Version:        cfg.Version,
		Metrics:        m,
	}, transport, cache)
	s.closers = append(s.closers, cache.Close)

	logger.Debug("IPA session ready",
		logger.KeyServer, baseURL,
		logger.KeyPrincipal, principal,
		logger.KeyCCache, cache.ID(),
	)
	return s, nil
}
