package ipa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/jcmturner/gokrb5/v8/krberror"
)

// Kind classifies a failure by how the session reacts to it.
type Kind int

const (
	// KindRemote is any business error raised by the server. Never retried.
	KindRemote Kind = iota
	// KindConfig is a local setup failure (identity config, keytab, krb5.conf).
	KindConfig
	// KindAuth covers missing, expired or rejected credentials. Triggers re-kinit.
	KindAuth
	// KindNetwork covers unreachable servers and transport failures. Retried.
	KindNetwork
	// KindNotFound is the server's "no such entry" error.
	KindNotFound
	// KindUnknownOperation is raised before any I/O for unsupported operations.
	KindUnknownOperation
)

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindUnknownOperation:
		return "unknown_operation"
	default:
		return "unknown"
	}
}

// JSON-RPC error codes the session distinguishes.
const (
	CodeNetworkError   = 907
	CodeServerNetwork  = 908
	CodeAuthRangeStart = 1000
	CodeAuthRangeEnd   = 1999
	CodeKerberosError  = 1100
	CodeCCacheError    = 1101
	CodeTicketExpired  = 1104
	CodeNotFound       = 4001
)

// ErrConnectRetriesExhausted is returned when the reconnect loop gives up.
// It wraps the last failure.
var ErrConnectRetriesExhausted = errors.New("connect retries exhausted")

// Error is a classified failure from the identity service or its transport.
type Error struct {
	Kind    Kind
	Code    int    // JSON-RPC error code, 0 for local failures
	Name    string // server error class, e.g. NotFound
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0 && e.Name != "":
		return fmt.Sprintf("ipa %s error %d (%s): %s", e.Kind, e.Code, e.Name, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("ipa %s error %d: %s", e.Kind, e.Code, e.Message)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("ipa %s error: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ipa %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("ipa %s error: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindRemote for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRemote
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return isKind(err, KindAuth) }

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return isKind(err, KindNetwork) }

// IsNotFound reports whether err is the server's "no such entry" error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConfig reports whether err is a local setup failure.
func IsConfig(err error) bool { return isKind(err, KindConfig) }

// IsUnknownOperation reports whether err rejected an unsupported operation.
func IsUnknownOperation(err error) bool { return isKind(err, KindUnknownOperation) }

func configError(msg string, err error) *Error {
	return &Error{Kind: KindConfig, Message: msg, Err: err}
}

// kindForCode maps a JSON-RPC error code to a Kind.
func kindForCode(code int) Kind {
	switch {
	case code == CodeNetworkError || code == CodeServerNetwork:
		return KindNetwork
	case code >= CodeAuthRangeStart && code <= CodeAuthRangeEnd:
		return KindAuth
	case code == CodeNotFound:
		return KindNotFound
	default:
		return KindRemote
	}
}

// kindForStatus maps an unexpected HTTP status to a Kind.
func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindRemote
	}
}

// classifyTransportError wraps an error raised below the JSON-RPC layer.
// Context cancellation is returned untouched so callers can match it.
func classifyTransportError(msg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ipaErr *Error
	if errors.As(err, &ipaErr) {
		return err
	}

	var kerr krberror.Krberror
	if errors.As(err, &kerr) {
		if kerr.RootCause == krberror.NetworkingError {
			return &Error{Kind: KindNetwork, Message: msg, Err: err}
		}
		return &Error{Kind: KindAuth, Message: msg, Err: err}
	}

	if isNetworkError(err) {
		return &Error{Kind: KindNetwork, Message: msg, Err: err}
	}

	return &Error{Kind: KindRemote, Message: msg, Err: err}
}

func isNetworkError(err error) bool {
	// http.Client wraps everything in *url.Error, which itself satisfies
	// net.Error; only the cause decides.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
