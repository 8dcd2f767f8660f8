package ipa

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/joincheck/pkg/auth/kerberos"
)

var testHost = HostInfo{
	Host:   "compute-0.example.com",
	Domain: "example.com",
	Realm:  "EXAMPLE.COM",
	Server: "ipa.example.com",
}

const testPrincipal = "nova/compute-0.example.com@EXAMPLE.COM"

type sessionOpts struct {
	retries  int
	backoff  int
	scope    BackoffScope
	deadline time.Duration
	version  string
	metrics  Metrics
}

func newTestSession(t *testing.T, tr *fakeTransport, auth *fakeAuth, o sessionOpts) (*Session, *recordingSleep) {
	t.Helper()
	rs := &recordingSleep{}
	s := NewSession(SessionConfig{
		Host:           testHost,
		Auth:           kerberos.AuthContext{CCache: "MEMORY:test", Keytab: "/etc/novajoin/krb5.keytab", Principal: testPrincipal},
		ConnectRetries: o.retries,
		Backoff:        o.backoff,
		BackoffScope:   o.scope,
		Deadline:       o.deadline,
		Version:        o.version,
		Sleep:          rs.sleep,
		Metrics:        o.metrics,
	}, tr, auth)
	return s, rs
}

func TestInvoke_UnknownOperationPerformsNoIO(t *testing.T) {
	tr := &fakeTransport{}
	auth := &fakeAuth{}
	s, rs := newTestSession(t, tr, auth, sessionOpts{retries: 3, backoff: 1})

	for _, name := range []string{"user_add", "host_del", "", "PING"} {
		_, err := s.Invoke(context.Background(), Operation(name), []any{"x"}, nil)
		require.Error(t, err, name)
		assert.True(t, IsUnknownOperation(err), name)
	}

	assert.Zero(t, tr.connects)
	assert.Zero(t, tr.pings)
	assert.Empty(t, tr.calls)
	assert.Zero(t, auth.count())
	assert.Empty(t, rs.delays)
}

func TestInvoke_ConnectsLazilyAndReturnsResult(t *testing.T) {
	tr := &fakeTransport{result: &Result{Count: 1, Summary: "1 host matched"}}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 1})

	res, err := s.Invoke(context.Background(), OpHostFind, []any{"compute-0.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, tr.connects)
	assert.Equal(t, 1, tr.pings)
	require.Len(t, tr.calls, 1)

	// Already connected: no further connect.
	_, err = s.Invoke(context.Background(), OpHostFind, []any{"compute-0.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.connects)
}

func TestInvoke_VersionInjection(t *testing.T) {
	t.Run("DefaultVersion", func(t *testing.T) {
		tr := &fakeTransport{connected: true}
		s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{})

		opts := map[string]any{"all": true}
		_, err := s.Invoke(context.Background(), OpServiceFind, []any{"HTTP/a.example.com@EXAMPLE.COM"}, opts)
		require.NoError(t, err)
		require.Len(t, tr.calls, 1)
		assert.Equal(t, DefaultAPIVersion, tr.calls[0].Options[OptVersion])
		assert.Equal(t, true, tr.calls[0].Options["all"])
		_, mutated := opts[OptVersion]
		assert.False(t, mutated, "caller options must not be modified")
	})

	t.Run("ConfiguredVersion", func(t *testing.T) {
		tr := &fakeTransport{connected: true}
		s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{version: "2.230"})

		_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "2.230", tr.calls[0].Options[OptVersion])
	})

	t.Run("CallerVersionWins", func(t *testing.T) {
		tr := &fakeTransport{connected: true}
		s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{})

		_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, map[string]any{OptVersion: "2.51"})
		require.NoError(t, err)
		assert.Equal(t, "2.51", tr.calls[0].Options[OptVersion])
	})
}

func TestEnsureConnected_NetworkFailuresBoundedByRetries(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			tr := &fakeTransport{connectErrs: repeat(netErr(), 100)}
			auth := &fakeAuth{}
			s, rs := newTestSession(t, tr, auth, sessionOpts{retries: retries})

			_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConnectRetriesExhausted)
			assert.True(t, IsNetwork(err), "last error must be preserved")
			assert.Equal(t, retries+1, tr.connects)
			assert.Empty(t, tr.calls)
			assert.Empty(t, rs.delays)
			assert.Zero(t, auth.count())
		})
	}
}

func TestEnsureConnected_PingFailureCountsAsAttempt(t *testing.T) {
	tr := &fakeTransport{pingErrs: []error{netErr()}}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 1})

	_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.connects)
	assert.Equal(t, 2, tr.pings)
	assert.Equal(t, 1, tr.disconnects, "a half-open session is torn down before reconnecting")
}

func TestEnsureConnected_BackoffOutlastsRetries(t *testing.T) {
	tr := &fakeTransport{connectErrs: repeat(netErr(), 5)}
	s, rs := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 1, backoff: 1})

	_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, tr.connects)
	assert.Equal(t, []int{1, 2, 4, 8, 16}, rs.seconds())
	assert.Len(t, tr.calls, 1)
}

func TestEnsureConnected_BackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{connectErrs: repeat(netErr(), 1000)}
	s, rs := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 0, backoff: 1})
	rs.onSleep = func(n int) error {
		if n == 3 {
			cancel()
		}
		return nil
	}

	_, err := s.Invoke(ctx, OpHostFind, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsNetwork(err))
	assert.NotErrorIs(t, err, ErrConnectRetriesExhausted)
	assert.Equal(t, 3, tr.connects)
	assert.Equal(t, []int{1, 2, 4}, rs.seconds())
}

func TestInvoke_DeadlineBoundsBackoffLoop(t *testing.T) {
	tr := &fakeTransport{connectErrs: repeat(netErr(), 1000)}
	s := NewSession(SessionConfig{
		Host:     testHost,
		Auth:     kerberos.AuthContext{Principal: testPrincipal},
		Backoff:  1,
		Deadline: 50 * time.Millisecond,
	}, tr, &fakeAuth{})

	start := time.Now()
	_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, tr.connects)
}

func TestEnsureConnected_AuthFailureKinits(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{authErr()}}
	auth := &fakeAuth{}
	s, rs := newTestSession(t, tr, auth, sessionOpts{retries: 1})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{testPrincipal}, auth.principals)
	assert.Equal(t, 2, tr.connects)
	assert.Empty(t, rs.delays, "first auth failure does not back off")
}

func TestEnsureConnected_KinitPrincipalFallsBackToHost(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{authErr()}}
	auth := &fakeAuth{}
	s := NewSession(SessionConfig{Host: testHost, ConnectRetries: 1}, tr, auth)

	_, err := s.Invoke(context.Background(), OpPing, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"nova/compute-0.example.com@EXAMPLE.COM"}, auth.principals)
}

func TestEnsureConnected_KinitFailureIgnored(t *testing.T) {
	tr := &fakeTransport{connectErrs: repeat(authErr(), 100)}
	auth := &fakeAuth{err: errors.New("KDC unreachable")}
	s, _ := newTestSession(t, tr, auth, sessionOpts{retries: 2})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectRetriesExhausted)
	assert.True(t, IsAuth(err))
	assert.Equal(t, 3, tr.connects)
	assert.Equal(t, 3, auth.count())
}

func TestEnsureConnected_AuthFailuresBackOffAfterFirst(t *testing.T) {
	tr := &fakeTransport{connectErrs: repeat(authErr(), 3)}
	auth := &fakeAuth{}
	s, rs := newTestSession(t, tr, auth, sessionOpts{retries: 0, backoff: 2})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, tr.connects)
	assert.Equal(t, 3, auth.count())
	assert.Equal(t, []int{2, 4}, rs.seconds())
}

func TestEnsureConnected_RemoteErrorNotRetried(t *testing.T) {
	remote := &Error{Kind: KindRemote, Code: 2100, Name: "ACIError", Message: "insufficient access"}
	tr := &fakeTransport{connectErrs: []error{remote}}
	s, rs := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 5, backoff: 1})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.Same(t, remote, err)
	assert.Equal(t, 1, tr.connects)
	assert.Empty(t, rs.delays)
}

func TestInvoke_AuthFailureReissuesIdenticalRequest(t *testing.T) {
	tr := &fakeTransport{connected: true, callErrs: []error{authErr()}, result: &Result{Count: 1}}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 1})

	args := []any{"HTTP/compute-0.internalapi.example.com@EXAMPLE.COM"}
	opts := map[string]any{"all": true}
	res, err := s.Invoke(context.Background(), OpServiceShow, args, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	require.Len(t, tr.calls, 2)
	assert.Equal(t, tr.calls[0].Operation, tr.calls[1].Operation)
	assert.Equal(t, tr.calls[0].Args, tr.calls[1].Args)
	assert.Equal(t, tr.calls[0].Options, tr.calls[1].Options)
	assert.Equal(t, 1, tr.disconnects)
	assert.Equal(t, 1, tr.connects)
}

func TestInvoke_RepeatedAuthRejectionIsBounded(t *testing.T) {
	tr := &fakeTransport{connected: true, callErrs: repeat(authErr(), 100)}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 1})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.Len(t, tr.calls, 3)
}

func TestInvoke_NotFoundNotRetried(t *testing.T) {
	tr := &fakeTransport{connected: true, callErrs: []error{notFoundErr()}}
	auth := &fakeAuth{}
	s, rs := newTestSession(t, tr, auth, sessionOpts{retries: 3, backoff: 4})

	_, err := s.Invoke(context.Background(), OpServiceShow, []any{"HTTP/x.example.com@EXAMPLE.COM"}, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Len(t, tr.calls, 1)
	assert.Zero(t, tr.connects)
	assert.Zero(t, auth.count())
	assert.Empty(t, rs.delays)
}

func TestInvoke_NetworkFailureWithoutBackoffReturns(t *testing.T) {
	tr := &fakeTransport{connected: true, callErrs: []error{netErr()}}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{retries: 3})

	_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.Len(t, tr.calls, 1)
}

func TestInvoke_NetworkFailureWithBackoffRetries(t *testing.T) {
	tr := &fakeTransport{connected: true, callErrs: []error{netErr(), netErr()}}
	s, rs := newTestSession(t, tr, &fakeAuth{}, sessionOpts{backoff: 3})

	_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.NoError(t, err)
	assert.Len(t, tr.calls, 3)
	assert.Equal(t, []int{3, 6}, rs.seconds())
}

func TestInvoke_BackoffScope(t *testing.T) {
	run := func(scope BackoffScope) []int {
		tr := &fakeTransport{connected: true, callErrs: []error{netErr(), netErr()}}
		s, rs := newTestSession(t, tr, &fakeAuth{}, sessionOpts{backoff: 1, scope: scope})

		_, err := s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
		require.NoError(t, err)

		tr.callErrs = []error{netErr()}
		_, err = s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
		require.NoError(t, err)
		return rs.seconds()
	}

	assert.Equal(t, []int{1, 2, 1}, run(BackoffPerCall))
	assert.Equal(t, []int{1, 2, 4}, run(BackoffPerSession))
}

func TestInvoke_Metrics(t *testing.T) {
	m := newFakeMetrics()
	tr := &fakeTransport{callErrs: []error{netErr(), notFoundErr()}}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{backoff: 1, metrics: m})

	_, err := s.Invoke(context.Background(), OpHostShow, []any{"a.example.com"}, nil)
	require.Error(t, err)

	_, err = s.Invoke(context.Background(), OpHostFind, []any{"a.example.com"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.calls["host_show:not_found"])
	assert.Equal(t, 1, m.calls["host_find:success"])
	assert.Equal(t, 1, m.retries["host_show:network"])
	assert.Equal(t, 1, m.reconnects[true])
	assert.Equal(t, []int{1}, m.backoffs)
}

func TestSession_Close(t *testing.T) {
	tr := &fakeTransport{connected: true}
	s, _ := newTestSession(t, tr, &fakeAuth{}, sessionOpts{})

	closed := 0
	s.closers = append(s.closers, func() error { closed++; return nil })

	require.NoError(t, s.Close())
	assert.False(t, tr.IsConnected())
	assert.Equal(t, 1, closed)

	// Second close is a no-op.
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closed)
}

func TestSession_Accessors(t *testing.T) {
	s, _ := newTestSession(t, &fakeTransport{}, &fakeAuth{}, sessionOpts{})
	assert.Equal(t, testHost, s.Host())
	assert.Equal(t, testPrincipal, s.AuthContext().Principal)
}
