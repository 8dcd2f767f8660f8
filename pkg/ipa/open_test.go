package ipa

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/joincheck/pkg/auth/kerberos"
	"github.com/marmos91/joincheck/pkg/config"
)

func TestOpen_MissingKeytabFailsBeforeNetwork(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IPAConfig{
		// Neither file exists; the keytab must be reported first.
		ConfigPath: filepath.Join(dir, "default.conf"),
		Keytab:     filepath.Join(dir, "krb5.keytab"),
		Server:     "127.0.0.1:1",
	}

	s, err := Open(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, IsConfig(err))

	var ktErr *kerberos.KeytabError
	assert.ErrorAs(t, err, &ktErr)
}
