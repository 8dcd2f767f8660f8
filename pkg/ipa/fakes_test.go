package ipa

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// fakeTransport replays scripted outcomes.
type fakeTransport struct {
	mu sync.Mutex

	connected bool

	// connectErrs is consumed one per Connect; once empty Connect succeeds.
	connectErrs []error
	// pingErrs is consumed one per ping; once empty ping succeeds.
	pingErrs []error
	// callErrs is consumed one per non-ping call; once empty the call returns result.
	callErrs []error
	result   *Result

	connects    int
	disconnects int
	pings       int
	calls       []*Request
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Call(ctx context.Context, req *Request) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Operation == OpPing {
		f.pings++
		if len(f.pingErrs) > 0 {
			err := f.pingErrs[0]
			f.pingErrs = f.pingErrs[1:]
			if err != nil {
				return nil, err
			}
		}
		return &Result{Summary: "IPA server version 4.6.4. API version 2.230"}, nil
	}

	f.calls = append(f.calls, req)
	if len(f.callErrs) > 0 {
		err := f.callErrs[0]
		f.callErrs = f.callErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Result{Result: json.RawMessage(`[]`)}, nil
}

// fakeAuth records Kinit calls.
type fakeAuth struct {
	mu         sync.Mutex
	principals []string
	err        error
}

func (a *fakeAuth) Kinit(ctx context.Context, principal string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.principals = append(a.principals, principal)
	return a.err
}

func (a *fakeAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.principals)
}

// recordingSleep records requested delays without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	// onSleep, if set, may end the wait early.
	onSleep func(n int) error
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()
	if r.onSleep != nil {
		if err := r.onSleep(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (r *recordingSleep) seconds() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.delays))
	for i, d := range r.delays {
		out[i] = int(d / time.Second)
	}
	return out
}

func netErr() error {
	return &Error{Kind: KindNetwork, Code: CodeNetworkError, Name: "NetworkError", Message: "cannot connect"}
}

func authErr() error {
	return &Error{Kind: KindAuth, Code: CodeTicketExpired, Name: "TicketExpired", Message: "Ticket expired"}
}

func notFoundErr() error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Name: "NotFound", Message: "service not found"}
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

// fakeMetrics counts calls.
type fakeMetrics struct {
	mu         sync.Mutex
	calls      map[string]int
	retries    map[string]int
	reconnects map[bool]int
	kinits     map[bool]int
	backoffs   []int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		calls:      map[string]int{},
		retries:    map[string]int{},
		reconnects: map[bool]int{},
		kinits:     map[bool]int{},
	}
}

func (m *fakeMetrics) ObserveCall(operation, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[operation+":"+outcome]++
}

func (m *fakeMetrics) RecordRetry(operation, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[operation+":"+reason]++
}

func (m *fakeMetrics) RecordReconnect(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects[success]++
}

func (m *fakeMetrics) RecordKinit(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinits[success]++
}

func (m *fakeMetrics) ObserveBackoff(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoffs = append(m.backoffs, seconds)
}
