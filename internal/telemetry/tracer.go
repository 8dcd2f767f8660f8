package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys. Names follow OpenTelemetry semantic conventions
// where one exists (rpc.*, server.*), otherwise they use the component prefix.
const (
	// ========================================================================
	// Identity-service RPC attributes
	// ========================================================================
	AttrRPCSystem    = "rpc.system"
	AttrRPCMethod    = "rpc.method"
	AttrServerAddr   = "server.address"
	AttrIPAVersion   = "ipa.version"
	AttrIPACount     = "ipa.count"
	AttrIPAErrorKind = "ipa.error.kind"
	AttrIPAErrorCode = "ipa.error.code"

	// ========================================================================
	// Retry attributes
	// ========================================================================
	AttrAttempt    = "retry.attempt"
	AttrMaxRetries = "retry.max"
	AttrBackoff    = "retry.backoff_seconds"

	// ========================================================================
	// Kerberos attributes
	// ========================================================================
	AttrPrincipal = "krb5.principal"
	AttrRealm     = "krb5.realm"
	AttrCCache    = "krb5.ccache"

	// ========================================================================
	// Enrollment attributes
	// ========================================================================
	AttrHost     = "enrollment.host"
	AttrService  = "enrollment.service"
	AttrExpected = "enrollment.expected"

	// ========================================================================
	// Remote execution attributes
	// ========================================================================
	AttrSSHAddress = "ssh.address"
	AttrSSHCommand = "ssh.command"
	AttrSSHExit    = "ssh.exit_status"

	// ========================================================================
	// Compute attributes
	// ========================================================================
	AttrServerID   = "openstack.server.id"
	AttrServerName = "openstack.server.name"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanIPACall    = "ipa.call"
	SpanIPAConnect = "ipa.connect"
	SpanIPAKinit   = "ipa.kinit"
	SpanIPABackoff = "ipa.backoff"

	SpanEnrollmentWait = "enrollment.wait"
	SpanSSHExec        = "ssh.exec"
	SpanOpenStack      = "openstack"
)

// RPCMethod returns the remote method attribute.
func RPCMethod(method string) attribute.KeyValue {
	return attribute.String(AttrRPCMethod, method)
}

// ServerAddr returns the server address attribute.
func ServerAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrServerAddr, addr)
}

func IPAVersion(v string) attribute.KeyValue {
	return attribute.String(AttrIPAVersion, v)
}

func IPACount(n int) attribute.KeyValue {
	return attribute.Int(AttrIPACount, n)
}

func IPAErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrIPAErrorKind, kind)
}

func IPAErrorCode(code int) attribute.KeyValue {
	return attribute.Int(AttrIPAErrorCode, code)
}

func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

func MaxRetries(n int) attribute.KeyValue {
	return attribute.Int(AttrMaxRetries, n)
}

// Backoff returns the backoff attribute in whole seconds.
func Backoff(seconds int) attribute.KeyValue {
	return attribute.Int(AttrBackoff, seconds)
}

func Principal(p string) attribute.KeyValue {
	return attribute.String(AttrPrincipal, p)
}

func Realm(r string) attribute.KeyValue {
	return attribute.String(AttrRealm, r)
}

func CCache(id string) attribute.KeyValue {
	return attribute.String(AttrCCache, id)
}

func Host(h string) attribute.KeyValue {
	return attribute.String(AttrHost, h)
}

func Service(s string) attribute.KeyValue {
	return attribute.String(AttrService, s)
}

func Expected(state string) attribute.KeyValue {
	return attribute.String(AttrExpected, state)
}

func SSHAddress(addr string) attribute.KeyValue {
	return attribute.String(AttrSSHAddress, addr)
}

func SSHCommand(cmd string) attribute.KeyValue {
	return attribute.String(AttrSSHCommand, cmd)
}

func SSHExit(status int) attribute.KeyValue {
	return attribute.Int(AttrSSHExit, status)
}

func ServerID(id string) attribute.KeyValue {
	return attribute.String(AttrServerID, id)
}

func ServerName(name string) attribute.KeyValue {
	return attribute.String(AttrServerName, name)
}

// StartIPASpan starts a span for one identity-service call, including its retries.
func StartIPASpan(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrRPCSystem, "jsonrpc"),
		RPCMethod(method),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanIPACall+"."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...))
}

// StartSSHSpan starts a span for a remote command.
func StartSSHSpan(ctx context.Context, address, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		SSHAddress(address),
		SSHCommand(command),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanSSHExec,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...))
}

// StartEnrollmentSpan starts a span for an enrollment wait.
func StartEnrollmentSpan(ctx context.Context, expected, host string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Expected(expected),
		Host(host),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanEnrollmentWait, trace.WithAttributes(allAttrs...))
}

// StartOpenStackSpan starts a span for a compute API request.
func StartOpenStackSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanOpenStack+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}
