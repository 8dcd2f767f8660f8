package ipa

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	op   Operation
	args []any
	opts map[string]any
}

// stubInvoker answers by operation.
type stubInvoker struct {
	results map[Operation]*Result
	errs    map[Operation]error
	seen    []invocation
}

func (s *stubInvoker) Invoke(ctx context.Context, op Operation, args []any, opts map[string]any) (*Result, error) {
	s.seen = append(s.seen, invocation{op: op, args: args, opts: opts})
	if err := s.errs[op]; err != nil {
		return nil, err
	}
	if res := s.results[op]; res != nil {
		return res, nil
	}
	return &Result{Result: json.RawMessage(`[]`)}, nil
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestClient_HostRegistered(t *testing.T) {
	for _, tt := range []struct {
		count int
		want  bool
	}{{1, true}, {0, false}, {2, true}} {
		inv := &stubInvoker{results: map[Operation]*Result{OpHostFind: {Count: tt.count, Result: raw(`[]`)}}}
		got, err := NewClient(inv).HostRegistered(context.Background(), "a.example.com")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, []any{"a.example.com"}, inv.seen[0].args)
	}
}

func TestClient_HostHasKeytab(t *testing.T) {
	t.Run("True", func(t *testing.T) {
		inv := &stubInvoker{results: map[Operation]*Result{
			OpHostShow: {Result: raw(`{"fqdn":["a.example.com"],"has_keytab":true}`)},
		}}
		got, err := NewClient(inv).HostHasKeytab(context.Background(), "a.example.com")
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("False", func(t *testing.T) {
		inv := &stubInvoker{results: map[Operation]*Result{
			OpHostShow: {Result: raw(`{"fqdn":["a.example.com"],"has_keytab":false}`)},
		}}
		got, err := NewClient(inv).HostHasKeytab(context.Background(), "a.example.com")
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("MissingHost", func(t *testing.T) {
		inv := &stubInvoker{errs: map[Operation]error{OpHostShow: notFoundErr()}}
		got, err := NewClient(inv).HostHasKeytab(context.Background(), "a.example.com")
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("NetworkError", func(t *testing.T) {
		inv := &stubInvoker{errs: map[Operation]error{OpHostShow: netErr()}}
		_, err := NewClient(inv).HostHasKeytab(context.Background(), "a.example.com")
		assert.True(t, IsNetwork(err))
	})
}

func TestClient_GetServiceCert(t *testing.T) {
	t.Run("Serial", func(t *testing.T) {
		inv := &stubInvoker{results: map[Operation]*Result{
			OpServiceFind: {Count: 1, Result: raw(`[{"krbprincipalname":["HTTP/a.example.com@EXAMPLE.COM"],"serial_number":"1234"}]`)},
		}}
		serial, err := NewClient(inv).GetServiceCert(context.Background(), "HTTP/a.example.com@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, "1234", serial)
	})

	t.Run("NumericSerialKeepsDigits", func(t *testing.T) {
		for _, tt := range []struct {
			result string
			want   string
		}{
			{`[{"serial_number":1234567}]`, "1234567"},
			{`[{"serial_number":[1234567]}]`, "1234567"},
			{`[{"serial_number":290815235487946203148209134710583934713}]`, "290815235487946203148209134710583934713"},
		} {
			inv := &stubInvoker{results: map[Operation]*Result{
				OpServiceFind: {Count: 1, Result: raw(tt.result)},
				OpCertShow:    {Result: raw(`{"revoked":true}`)},
			}}
			c := NewClient(inv)

			serial, err := c.GetServiceCert(context.Background(), "HTTP/a.example.com@EXAMPLE.COM")
			require.NoError(t, err)
			assert.Equal(t, tt.want, serial, tt.result)

			_, err = c.CertRevoked(context.Background(), serial)
			require.NoError(t, err)
			last := inv.seen[len(inv.seen)-1]
			assert.Equal(t, OpCertShow, last.op)
			assert.Equal(t, []any{tt.want}, last.args, "cert_show receives the serial verbatim")
		}
	})

	t.Run("NoCertificate", func(t *testing.T) {
		inv := &stubInvoker{results: map[Operation]*Result{
			OpServiceFind: {Count: 1, Result: raw(`[{"krbprincipalname":["HTTP/a.example.com@EXAMPLE.COM"]}]`)},
		}}
		serial, err := NewClient(inv).GetServiceCert(context.Background(), "HTTP/a.example.com@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Empty(t, serial)
	})

	t.Run("NoService", func(t *testing.T) {
		inv := &stubInvoker{}
		_, err := NewClient(inv).GetServiceCert(context.Background(), "HTTP/a.example.com@EXAMPLE.COM")
		assert.ErrorIs(t, err, ErrServiceNotFound)
	})
}

func TestClient_ServiceManagedByHost(t *testing.T) {
	principal := "HTTP/a.internalapi.example.com@EXAMPLE.COM"
	inv := &stubInvoker{results: map[Operation]*Result{
		OpServiceShow: {Result: raw(`{"managedby_host":["a.internalapi.example.com","a.example.com"]}`)},
	}}
	c := NewClient(inv)

	got, err := c.ServiceManagedByHost(context.Background(), principal, "a.example.com")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = c.ServiceManagedByHost(context.Background(), principal, "b.example.com")
	require.NoError(t, err)
	assert.False(t, got)

	missing := &stubInvoker{errs: map[Operation]error{OpServiceShow: notFoundErr()}}
	_, err = NewClient(missing).ServiceManagedByHost(context.Background(), principal, "a.example.com")
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.True(t, IsNotFound(err))
}

func TestClient_HostHasServices(t *testing.T) {
	inv := &stubInvoker{results: map[Operation]*Result{OpServiceFind: {Count: 3, Result: raw(`[]`)}}}
	got, err := NewClient(inv).HostHasServices(context.Background(), "a.example.com")
	require.NoError(t, err)
	assert.True(t, got)
	require.Len(t, inv.seen, 1)
	assert.Empty(t, inv.seen[0].args)
	assert.Equal(t, map[string]any{"man_by_host": "a.example.com"}, inv.seen[0].opts)
}

func TestClient_ServiceExistsAndCertRevoked(t *testing.T) {
	inv := &stubInvoker{results: map[Operation]*Result{
		OpServiceFind: {Count: 0, Result: raw(`[]`)},
		OpCertShow:    {Result: raw(`{"serial_number":1234,"revoked":true,"revocation_reason":4}`)},
	}}
	c := NewClient(inv)

	exists, err := c.ServiceExists(context.Background(), "HTTP/a.example.com@EXAMPLE.COM")
	require.NoError(t, err)
	assert.False(t, exists)

	revoked, err := c.CertRevoked(context.Background(), "1234")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestClient_PassesErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	inv := &stubInvoker{errs: map[Operation]error{OpPing: boom, OpHostFind: boom}}
	c := NewClient(inv)

	_, err := c.Ping(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = c.HostRegistered(context.Background(), "a.example.com")
	assert.ErrorIs(t, err, boom)
}
