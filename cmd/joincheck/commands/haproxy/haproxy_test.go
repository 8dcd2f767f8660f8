package haproxy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/joincheck/pkg/haproxy"
	"github.com/marmos91/joincheck/pkg/remote"
)

const controllerCfg = `listen keystone_public
  bind 10.0.0.5:13000 transparent ssl crt /etc/pki/tls/private/overcloud_endpoint.pem
  server controller-0.internalapi 172.17.1.22:5000 check fall 5 inter 2000 rise 2 ssl verify required ca-file /etc/ipa/ca.crt

listen mysql
  bind 172.17.1.10:3306 transparent
  server controller-0.internalapi 172.17.1.22:3306 backup check inter 1s
`

type probeRunner struct {
	failing map[string]bool
	probed  []string
}

func (p *probeRunner) Run(ctx context.Context, host, command string) (*remote.Result, error) {
	for hp := range p.failing {
		if strings.Contains(command, hp) {
			p.probed = append(p.probed, hp)
			return &remote.Result{Stdout: "CONNECTED(00000003)\nVerify return code: 21 (unable to verify)"}, nil
		}
	}
	p.probed = append(p.probed, command)
	return &remote.Result{Stdout: "CONNECTED(00000003)\nVerify return code: 0 (ok)"}, nil
}

func TestCheckPlainEndpoints(t *testing.T) {
	cfg, err := haproxy.Parse(strings.NewReader(controllerCfg))
	require.NoError(t, err)

	r, err := check(context.Background(), "haproxy.cfg", cfg, nil)
	require.NoError(t, err)

	require.Len(t, r.Plain, 2)
	assert.Equal(t, "mysql", r.Plain[0].Service)
	assert.Equal(t, "172.17.1.10:3306", r.Plain[0].HostPort)
	assert.Empty(t, r.Unprobed)

	rows := Results{r}.Rows()
	assert.Equal(t, []string{"haproxy.cfg", "mysql", "172.17.1.22:3306", "no ssl"}, rows[1])
	assert.False(t, Results{r}.empty())
}

func TestCheckProbesTLSEndpoints(t *testing.T) {
	cfg, err := haproxy.Parse(strings.NewReader(controllerCfg))
	require.NoError(t, err)

	runner := &probeRunner{failing: map[string]bool{"172.17.1.22:5000": true}}
	r, err := check(context.Background(), "192.168.24.10", cfg, runner)
	require.NoError(t, err)

	assert.Len(t, runner.probed, 2, "only the keystone endpoints enable TLS")
	assert.Equal(t, []string{"172.17.1.22:5000"}, r.Unprobed)
}

func TestResultsEmpty(t *testing.T) {
	assert.True(t, Results{{Source: "a"}}.empty())
	assert.True(t, Results(nil).empty())
	assert.Empty(t, Results{{Source: "a"}}.Rows())
}
