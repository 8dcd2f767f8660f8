//go:build e2e

// Package framework starts the external services the e2e tests run
// against: an MIT KDC in a container and an in-process IPA JSON-RPC server
// that authenticates logins with SPNEGO.
package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// KDC manages a MIT Kerberos KDC testcontainer.
type KDC struct {
	container  testcontainers.Container
	realm      string
	keytabDir  string
	krb5Config string
	host       string
	port       int
}

// KDCConfig holds configuration for the KDC container.
type KDCConfig struct {
	Realm string

	// Principals maps a principal (without realm) to the keytab file
	// name it is exported to.
	Principals map[string]string
}

// NewKDC builds and starts the KDC from test/e2e/kdc. The container is
// terminated when the test ends.
func NewKDC(t *testing.T, cfg KDCConfig) *KDC {
	t.Helper()

	if cfg.Realm == "" {
		cfg.Realm = "EXAMPLE.TEST"
	}

	ctx := context.Background()
	keytabDir := t.TempDir()

	pairs := make([]string, 0, len(cfg.Principals))
	for principal, keytab := range cfg.Principals {
		pairs = append(pairs, principal+"="+keytab)
	}

	req := testcontainers.ContainerRequest{
		FromDockerfile: testcontainers.FromDockerfile{
			Context:    filepath.Join(projectRoot(t), "test", "e2e", "kdc"),
			Dockerfile: "Dockerfile",
		},
		ExposedPorts: []string{"88/tcp"},
		Env: map[string]string{
			"KRB5_REALM":      cfg.Realm,
			"KRB5_PRINCIPALS": strings.Join(pairs, " "),
		},
		Mounts: testcontainers.Mounts(
			testcontainers.BindMount(keytabDir, "/keytabs"),
		),
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("88/tcp"),
			wait.ForFile("/keytabs/.ready").WithStartupTimeout(90*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start KDC container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	mappedPort, err := container.MappedPort(ctx, nat.Port("88/tcp"))
	require.NoError(t, err, "failed to get KDC port")

	host, err := container.Host(ctx)
	require.NoError(t, err, "failed to get KDC host")

	k := &KDC{
		container: container,
		realm:     cfg.Realm,
		keytabDir: keytabDir,
		host:      host,
		port:      mappedPort.Int(),
	}
	k.krb5Config = k.writeKrb5Conf(t)
	return k
}

// writeKrb5Conf points clients at the mapped TCP port. Only TCP is
// published, so UDP is disabled.
func (k *KDC) writeKrb5Conf(t *testing.T) string {
	t.Helper()

	content := fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_realm = false
    dns_lookup_kdc = false
    udp_preference_limit = 1
    ticket_lifetime = 1h
    rdns = false

[realms]
    %[1]s = {
        kdc = %[2]s:%[3]d
    }

[domain_realm]
    .%[4]s = %[1]s
    %[4]s = %[1]s
`, k.realm, k.host, k.port, strings.ToLower(k.realm))

	path := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "failed to write krb5.conf")
	return path
}

// Realm returns the realm name.
func (k *KDC) Realm() string {
	return k.realm
}

// Krb5ConfigPath returns the generated client krb5.conf.
func (k *KDC) Krb5ConfigPath() string {
	return k.krb5Config
}

// KeytabPath returns the host path of an exported keytab.
func (k *KDC) KeytabPath(name string) string {
	return filepath.Join(k.keytabDir, name)
}

// AddPrincipal creates another principal and exports it to keytab.
func (k *KDC) AddPrincipal(t *testing.T, principal, keytab string) {
	t.Helper()

	ctx := context.Background()
	full := principal + "@" + k.realm
	for _, q := range []string{
		"addprinc -randkey " + full,
		"ktadd -k /keytabs/" + keytab + " " + full,
	} {
		code, _, err := k.container.Exec(ctx, []string{"kadmin.local", "-q", q})
		require.NoError(t, err, "kadmin.local %s", q)
		require.Equal(t, 0, code, "kadmin.local %s", q)
	}
	code, _, err := k.container.Exec(ctx, []string{"chmod", "0644", "/keytabs/" + keytab})
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

// RandomizeKey changes a principal's key, invalidating keytabs already exported.
func (k *KDC) RandomizeKey(t *testing.T, principal string) {
	t.Helper()

	code, _, err := k.container.Exec(context.Background(),
		[]string{"kadmin.local", "-q", "cpw -randkey " + principal + "@" + k.realm})
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func projectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above working directory")
		}
		dir = parent
	}
}
