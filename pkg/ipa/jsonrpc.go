package ipa

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// CredentialSource yields the logged-in Kerberos client used for SPNEGO.
type CredentialSource interface {
	Client() (*client.Client, error)
}

// JSONRPCConfig configures a JSONRPCTransport.
type JSONRPCConfig struct {
	// BaseURL is https://<server>/ipa.
	BaseURL string

	// CACert verifies the server. Empty uses the system pool.
	CACert      string
	InsecureTLS bool

	// Timeout bounds a single HTTP exchange. Default: 60s
	Timeout time.Duration
}

// JSONRPCTransport talks to the IPA JSON-RPC endpoint. Connect performs a
// Kerberos (SPNEGO) login that yields a session cookie; calls then carry
// only the cookie.
type JSONRPCTransport struct {
	baseURL *url.URL
	referer string
	spn     string
	creds   CredentialSource
	client  *http.Client

	mu        sync.Mutex
	connected bool
	nextID    int
}

// NewJSONRPCTransport builds a transport. No I/O is performed.
func NewJSONRPCTransport(cfg JSONRPCConfig, creds CredentialSource) (*JSONRPCTransport, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, configError(fmt.Sprintf("invalid server URL %q", cfg.BaseURL), err)
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureTLS, //nolint:gosec // opt-in for lab deployments
	}
	if cfg.CACert != "" && !cfg.InsecureTLS {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, configError(fmt.Sprintf("read CA certificate %s", cfg.CACert), err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, configError(fmt.Sprintf("no certificates in %s", cfg.CACert), nil)
		}
		tlsCfg.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	jar, _ := cookiejar.New(nil)

	return &JSONRPCTransport{
		baseURL: u,
		referer: u.String(),
		spn:     "HTTP/" + u.Hostname(),
		creds:   creds,
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     tlsCfg,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

func (t *JSONRPCTransport) endpoint(path string) string {
	return t.baseURL.String() + path
}

// Connect logs in with the current Kerberos credentials.
func (t *JSONRPCTransport) Connect(ctx context.Context) error {
	cl, err := t.creds.Client()
	if err != nil {
		return &Error{Kind: KindAuth, Message: "no Kerberos credentials", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("/session/login_kerberos"), nil)
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Referer", t.referer)

	if err := spnego.SetSPNEGOHeader(cl, req, t.spn); err != nil {
		return classifyTransportError("negotiate", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyTransportError("login", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Message: fmt.Sprintf("login returned %s", resp.Status),
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Disconnect forgets the session cookie.
func (t *JSONRPCTransport) Disconnect() error {
	jar, _ := cookiejar.New(nil)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.client.Jar = jar
	t.connected = false
	return nil
}

func (t *JSONRPCTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Name    string         `json:"name"`
	Data    map[string]any `json:"data,omitempty"`
}

type rpcResponse struct {
	Result    *Result   `json:"result"`
	Error     *rpcError `json:"error"`
	ID        int       `json:"id"`
	Principal string    `json:"principal"`
	Version   string    `json:"version"`
}

// Call performs one JSON-RPC request on the current session.
func (t *JSONRPCTransport) Call(ctx context.Context, r *Request) (*Result, error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	args := r.Args
	if args == nil {
		args = []any{}
	}
	opts := r.Options
	if opts == nil {
		opts = map[string]any{}
	}

	body, err := json.Marshal(rpcRequest{
		Method: r.Operation.String(),
		Params: []any{args, opts},
		ID:     id,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("/session/json"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", r.Operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", t.referer)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(r.Operation.String(), err)
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		// Session cookie expired or was never accepted.
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Message: fmt.Sprintf("%s returned %s", r.Operation, resp.Status),
		}
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classifyTransportError(fmt.Sprintf("decode %s response", r.Operation), err)
	}

	if out.Error != nil {
		return nil, &Error{
			Kind:    kindForCode(out.Error.Code),
			Code:    out.Error.Code,
			Name:    out.Error.Name,
			Message: out.Error.Message,
		}
	}
	if out.Result == nil {
		return nil, &Error{Kind: KindRemote, Message: fmt.Sprintf("%s response carries neither result nor error", r.Operation)}
	}

	return out.Result, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
