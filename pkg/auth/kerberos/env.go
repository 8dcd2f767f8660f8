package kerberos

import (
	"fmt"
	"os"
	"sync"

	"github.com/marmos91/joincheck/internal/logger"
)

var (
	bindOnce  sync.Once
	boundID   string
	bindError error
)

// BindEnvironment exports KRB5CCNAME and KRB5_CLIENT_KTNAME for this cache.
//
// The process environment is written at most once; later calls, from this or
// any other cache, leave it untouched and report the outcome of the first.
func (c *CredentialCache) BindEnvironment() error {
	bindOnce.Do(func() {
		if err := os.Setenv(EnvCCacheName, c.id); err != nil {
			bindError = fmt.Errorf("set %s: %w", EnvCCacheName, err)
			return
		}
		if err := os.Setenv(EnvClientKeytab, c.keytabPath); err != nil {
			bindError = fmt.Errorf("set %s: %w", EnvClientKeytab, err)
			return
		}
		boundID = c.id
		logger.Debug("Bound Kerberos environment",
			logger.KeyCCache, c.id,
			logger.KeyKeytab, c.keytabPath,
		)
	})

	if bindError == nil && boundID != c.id {
		logger.Debug("Kerberos environment already bound to another cache",
			logger.KeyCCache, boundID,
		)
	}
	return bindError
}

// BoundCache returns the cache identifier the environment was bound to, or "".
func BoundCache() string {
	return boundID
}
