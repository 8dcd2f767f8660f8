package ipa

import (
	"context"
	"time"
)

// Transport carries calls to the identity service.
type Transport interface {
	// Connect establishes an authenticated session.
	Connect(ctx context.Context) error
	// Disconnect drops the session. Safe on a disconnected transport.
	Disconnect() error
	IsConnected() bool
	// Call performs one request. Errors are *Error or context errors.
	Call(ctx context.Context, req *Request) (*Result, error)
}

// Authenticator refreshes the credentials the transport uses.
type Authenticator interface {
	Kinit(ctx context.Context, principal string) error
}

// Metrics records session activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveCall(operation, outcome string, duration time.Duration)
	RecordRetry(operation, reason string)
	RecordReconnect(success bool)
	RecordKinit(success bool)
	ObserveBackoff(seconds int)
}
