package kerberos

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM
  dns_lookup_kdc = false
  dns_lookup_realm = false
  udp_preference_limit = 1

[realms]
  EXAMPLE.COM = {
    kdc = 127.0.0.1:1
  }
`

func writeKrb5Conf(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(testKrb5Conf), 0644))
	return path
}

func newTestCache(t *testing.T) *CredentialCache {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvKrb5Config, "")

	c, err := NewCredentialCache(Options{
		KeytabPath:   createTestKeytab(t, dir),
		Krb5ConfPath: writeKrb5Conf(t, dir),
		PollInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewCredentialCache(t *testing.T) {
	t.Run("AllocatesMemoryCache", func(t *testing.T) {
		c := newTestCache(t)

		require.True(t, strings.HasPrefix(c.ID(), "MEMORY:"))
		_, err := uuid.Parse(strings.TrimPrefix(c.ID(), "MEMORY:"))
		assert.NoError(t, err)
		assert.NotNil(t, c.Keytab())
		assert.NotNil(t, c.Krb5Config())
	})

	t.Run("IdentifiersAreNeverReused", func(t *testing.T) {
		a := newTestCache(t)
		b := newTestCache(t)
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("StartsEmpty", func(t *testing.T) {
		c := newTestCache(t)

		_, err := c.Client()
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Empty(t, c.Principal())
	})

	t.Run("MissingKeytabIsKeytabError", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewCredentialCache(Options{
			KeytabPath:   filepath.Join(dir, "missing.keytab"),
			Krb5ConfPath: writeKrb5Conf(t, dir),
		})

		var ktErr *KeytabError
		require.True(t, errors.As(err, &ktErr))
		assert.Equal(t, filepath.Join(dir, "missing.keytab"), ktErr.Path)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("EmptyKeytabPathIsKeytabError", func(t *testing.T) {
		_, err := NewCredentialCache(Options{})

		var ktErr *KeytabError
		assert.True(t, errors.As(err, &ktErr))
	})

	t.Run("CorruptKeytabIsKeytabError", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.keytab")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

		_, err := NewCredentialCache(Options{
			KeytabPath:   path,
			Krb5ConfPath: writeKrb5Conf(t, dir),
		})

		var ktErr *KeytabError
		assert.True(t, errors.As(err, &ktErr))
	})

	t.Run("KeytabCheckedBeforeKrb5Conf", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewCredentialCache(Options{
			KeytabPath:   filepath.Join(dir, "missing.keytab"),
			Krb5ConfPath: filepath.Join(dir, "missing.conf"),
		})

		var ktErr *KeytabError
		assert.True(t, errors.As(err, &ktErr))
	})

	t.Run("MissingKrb5Conf", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(EnvKrb5Config, "")
		_, err := NewCredentialCache(Options{
			KeytabPath:   createTestKeytab(t, dir),
			Krb5ConfPath: filepath.Join(dir, "missing.conf"),
		})

		require.Error(t, err)
		var ktErr *KeytabError
		assert.False(t, errors.As(err, &ktErr))
	})
}

func TestAuthContext(t *testing.T) {
	c := newTestCache(t)

	ac := c.AuthContext("nova/undercloud.example.com@EXAMPLE.COM")
	assert.Equal(t, c.ID(), ac.CCache)
	assert.Equal(t, c.KeytabPath(), ac.Keytab)
	assert.Equal(t, "nova/undercloud.example.com@EXAMPLE.COM", ac.Principal)
}

func TestKinit(t *testing.T) {
	t.Run("RejectsMalformedPrincipal", func(t *testing.T) {
		c := newTestCache(t)

		err := c.Kinit(context.Background(), "no-realm")
		assert.ErrorIs(t, err, ErrInvalidPrincipal)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		c := newTestCache(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.Kinit(ctx, "nova/undercloud.example.com@EXAMPLE.COM")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("UnreachableKDCKeepsCacheEmpty", func(t *testing.T) {
		c := newTestCache(t)

		err := c.Kinit(context.Background(), "nova/undercloud.example.com@EXAMPLE.COM")
		require.Error(t, err)

		_, err = c.Client()
		assert.ErrorIs(t, err, ErrNoCredentials)
	})
}

func TestBindEnvironment(t *testing.T) {
	t.Setenv(EnvCCacheName, "")
	t.Setenv(EnvClientKeytab, "")

	first := newTestCache(t)
	second := newTestCache(t)

	require.NoError(t, first.BindEnvironment())
	assert.Equal(t, first.ID(), os.Getenv(EnvCCacheName))
	assert.Equal(t, first.KeytabPath(), os.Getenv(EnvClientKeytab))

	// Environment is bound once per process.
	require.NoError(t, second.BindEnvironment())
	assert.Equal(t, first.ID(), os.Getenv(EnvCCacheName))
	assert.Equal(t, first.ID(), BoundCache())
}

func TestClose_Idempotent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvKrb5Config, "")

	c, err := NewCredentialCache(Options{
		KeytabPath:   createTestKeytab(t, dir),
		Krb5ConfPath: writeKrb5Conf(t, dir),
	})
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestPrincipalHelpers(t *testing.T) {
	assert.Equal(t, "nova/undercloud.example.com@EXAMPLE.COM",
		ServicePrincipal("nova", "undercloud.example.com", "EXAMPLE.COM"))

	name, realm, err := SplitPrincipal("nova/undercloud.example.com@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "nova/undercloud.example.com", name)
	assert.Equal(t, "EXAMPLE.COM", realm)

	name, realm, err = SplitPrincipal("admin@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "admin", name)
	assert.Equal(t, "EXAMPLE.COM", realm)

	for _, bad := range []string{"", "@EXAMPLE.COM", "admin@", "admin", "/host@EXAMPLE.COM", "nova/@EXAMPLE.COM"} {
		_, _, err := SplitPrincipal(bad)
		assert.ErrorIs(t, err, ErrInvalidPrincipal, bad)
	}
}
