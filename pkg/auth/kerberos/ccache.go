package kerberos

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/joincheck/internal/logger"
)

const (
	EnvCCacheName   = "KRB5CCNAME"
	EnvClientKeytab = "KRB5_CLIENT_KTNAME"
	EnvKrb5Config   = "KRB5_CONFIG"

	memoryCachePrefix = "MEMORY:"
)

// Options configures a CredentialCache.
type Options struct {
	// KeytabPath is the client keytab. It must be readable.
	KeytabPath string

	// Krb5ConfPath is the Kerberos configuration. KRB5_CONFIG overrides it;
	// both empty means /etc/krb5.conf.
	Krb5ConfPath string

	// PollInterval controls keytab hot reload. Zero uses the default,
	// negative disables reloading.
	PollInterval time.Duration
}

// AuthContext identifies the credentials a session authenticates with.
type AuthContext struct {
	CCache    string
	Keytab    string
	Principal string
}

// CredentialCache is a private in-memory credential cache backed by a keytab.
//
// Thread Safety: All methods are safe for concurrent use.
type CredentialCache struct {
	id         string
	keytabPath string
	krb5Conf   *krb5config.Config

	mu        sync.RWMutex
	keytab    *keytab.Keytab
	client    *client.Client
	principal string

	watcher *keytabWatcher
}

// NewCredentialCache checks the keytab, loads krb5.conf, and allocates a
// fresh MEMORY cache identifier. The cache starts empty.
func NewCredentialCache(opts Options) (*CredentialCache, error) {
	if opts.KeytabPath == "" {
		return nil, &KeytabError{Path: opts.KeytabPath, Err: fmt.Errorf("path not configured")}
	}

	// Readability is checked before anything else touches Kerberos state.
	f, err := os.Open(opts.KeytabPath)
	if err != nil {
		return nil, &KeytabError{Path: opts.KeytabPath, Err: err}
	}
	_ = f.Close()

	kt, err := loadKeytab(opts.KeytabPath)
	if err != nil {
		return nil, &KeytabError{Path: opts.KeytabPath, Err: err}
	}

	krb5ConfPath := resolveKrb5ConfPath(opts.Krb5ConfPath)
	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
	}

	c := &CredentialCache{
		id:         memoryCachePrefix + uuid.NewString(),
		keytabPath: opts.KeytabPath,
		krb5Conf:   krbCfg,
		keytab:     kt,
	}

	// A negative interval disables rotation pickup; zero means the default.
	if opts.PollInterval >= 0 {
		w, err := watchKeytab(opts.KeytabPath, opts.PollInterval, c)
		if err != nil {
			logger.Warn("Keytab rotation will not be picked up",
				logger.KeyKeytab, opts.KeytabPath, logger.KeyError, err)
		} else {
			c.watcher = w
		}
	}

	logger.Debug("Credential cache created",
		logger.KeyCCache, c.id,
		logger.KeyKeytab, c.keytabPath,
	)

	return c, nil
}

// ID returns the MEMORY:<uuid> identifier.
func (c *CredentialCache) ID() string {
	return c.id
}

// KeytabPath returns the keytab backing the cache.
func (c *CredentialCache) KeytabPath() string {
	return c.keytabPath
}

// Keytab returns the current keytab.
func (c *CredentialCache) Keytab() *keytab.Keytab {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keytab
}

// Krb5Config returns the loaded Kerberos configuration.
func (c *CredentialCache) Krb5Config() *krb5config.Config {
	return c.krb5Conf
}

// AuthContext returns the identity tuple for principal.
func (c *CredentialCache) AuthContext(principal string) AuthContext {
	return AuthContext{
		CCache:    c.id,
		Keytab:    c.keytabPath,
		Principal: principal,
	}
}

// Principal returns the principal of the last successful Kinit, or "".
func (c *CredentialCache) Principal() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

// Client returns the logged-in client, or ErrNoCredentials before the first
// successful Kinit.
func (c *CredentialCache) Client() (*client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNoCredentials
	}
	return c.client, nil
}

// Kinit acquires a TGT for principal using the keytab and replaces the cache
// contents. On failure the previous credentials are kept.
func (c *CredentialCache) Kinit(ctx context.Context, principal string) error {
	name, realm, err := SplitPrincipal(principal)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cl := client.NewWithKeytab(name, realm, c.Keytab(), c.krb5Conf, client.DisablePAFXFAST(true))

	done := make(chan error, 1)
	go func() {
		done <- cl.Login()
	}()

	select {
	case err := <-done:
		if err != nil {
			cl.Destroy()
			return fmt.Errorf("kinit %s: %w", principal, err)
		}
	case <-ctx.Done():
		go func() {
			<-done
			cl.Destroy()
		}()
		return fmt.Errorf("kinit %s: %w", principal, ctx.Err())
	}

	c.mu.Lock()
	old := c.client
	c.client = cl
	c.principal = principal
	c.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	logger.DebugCtx(ctx, "Acquired TGT from keytab",
		logger.KeyPrincipal, principal,
		logger.KeyCCache, c.id,
	)
	return nil
}

// ReloadKeytab re-reads the keytab file and atomically swaps it.
// The old keytab stays active if the new one cannot be loaded.
func (c *CredentialCache) ReloadKeytab() error {
	kt, err := loadKeytab(c.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", c.keytabPath, err)
	}

	c.mu.Lock()
	c.keytab = kt
	c.mu.Unlock()

	return nil
}

// Close stops keytab polling and destroys the cached credentials.
// Safe to call multiple times.
func (c *CredentialCache) Close() error {
	if c.watcher != nil {
		c.watcher.stop()
	}

	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.principal = ""
	c.mu.Unlock()

	if cl != nil {
		cl.Destroy()
	}
	return nil
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}

// loadKrb5Conf reads and parses a Kerberos configuration file.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}

	return cfg, nil
}

// resolveKrb5ConfPath resolves the krb5.conf path.
//
// Resolution order (highest priority first):
//  1. KRB5_CONFIG env var
//  2. configPath from configuration file
//  3. Default: /etc/krb5.conf
func resolveKrb5ConfPath(configPath string) string {
	if envPath := os.Getenv(EnvKrb5Config); envPath != "" {
		return envPath
	}
	if configPath != "" {
		return configPath
	}
	return "/etc/krb5.conf"
}
