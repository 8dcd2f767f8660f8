package ipa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHostConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "default.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadHostInfo(t *testing.T) {
	path := writeHostConfig(t, `[global]
basedn = dc=example,dc=com
realm = EXAMPLE.COM
domain = example.com
server = ipa.example.com
host = compute-0.example.com
xmlrpc_uri = https://ipa.example.com/ipa/xml
enable_ra = True
`)

	info, err := LoadHostInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "compute-0.example.com", info.Host)
	assert.Equal(t, "example.com", info.Domain)
	assert.Equal(t, "EXAMPLE.COM", info.Realm)
	assert.Equal(t, "ipa.example.com", info.Server)
	assert.Equal(t, "https://ipa.example.com/ipa/xml", info.XMLRPCURI)
}

func TestLoadHostInfo_Errors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := LoadHostInfo(filepath.Join(t.TempDir(), "absent.conf"))
		assert.True(t, IsConfig(err))
	})

	t.Run("NoGlobalSection", func(t *testing.T) {
		_, err := LoadHostInfo(writeHostConfig(t, "[other]\nhost = a\n"))
		assert.True(t, IsConfig(err))
	})

	t.Run("MissingKeys", func(t *testing.T) {
		_, err := LoadHostInfo(writeHostConfig(t, "[global]\nhost = a.example.com\n"))
		require.Error(t, err)
		assert.True(t, IsConfig(err))
		assert.Contains(t, err.Error(), "domain, realm")
	})
}

func TestHostInfo_ServerURL(t *testing.T) {
	info := HostInfo{Server: "ipa1.example.com", XMLRPCURI: "https://ipa2.example.com/ipa/xml"}

	tests := []struct {
		name     string
		info     HostInfo
		override string
		want     string
	}{
		{"Override", info, "ipa3.example.com", "https://ipa3.example.com/ipa"},
		{"OverrideURL", info, "https://ipa3.example.com/ipa", "https://ipa3.example.com/ipa"},
		{"XMLRPCURI", info, "", "https://ipa2.example.com/ipa"},
		{"Server", HostInfo{Server: "ipa1.example.com"}, "", "https://ipa1.example.com/ipa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.info.ServerURL(tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := HostInfo{}.ServerURL("")
	assert.True(t, IsConfig(err))
}
