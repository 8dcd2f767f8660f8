//go:build e2e

package framework

import (
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/stretchr/testify/require"
)

const sessionCookie = "ipa_session"

// IPAServer is a TLS JSON-RPC server answering the calls joincheck makes.
// Logins are verified against the KDC with SPNEGO; calls need the session
// cookie a login hands out.
type IPAServer struct {
	srv    *httptest.Server
	caFile string

	mu       sync.Mutex
	sessions map[string]bool
	logins   int
	calls    map[string]int
	down     bool

	hosts    map[string]map[string]any
	services map[string]map[string]any
	certs    map[string]bool // serial -> revoked
}

// NewIPAServer starts a server whose SPN is HTTP/127.0.0.1, using the
// keytab exported for it by the KDC.
func NewIPAServer(t *testing.T, keytabPath string) *IPAServer {
	t.Helper()

	kt, err := keytab.Load(keytabPath)
	require.NoError(t, err, "load HTTP keytab")

	s := &IPAServer{
		sessions: make(map[string]bool),
		calls:    make(map[string]int),
		hosts:    make(map[string]map[string]any),
		services: make(map[string]map[string]any),
		certs:    make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ipa/session/login_kerberos", spnego.SPNEGOKRB5Authenticate(
		http.HandlerFunc(s.login), kt,
		service.KeytabPrincipal("HTTP/127.0.0.1"),
		service.DecodePAC(false),
	))
	mux.HandleFunc("POST /ipa/session/json", s.json)

	s.srv = httptest.NewTLSServer(s.unlessDown(mux))
	t.Cleanup(s.srv.Close)

	s.caFile = filepath.Join(t.TempDir(), "ca.crt")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(s.caFile, block, 0644))

	return s
}

// Address is host:port of the server.
func (s *IPAServer) Address() string {
	u, _ := url.Parse(s.srv.URL)
	return u.Host
}

// CAFile is a PEM file trusting the server certificate.
func (s *IPAServer) CAFile() string {
	return s.caFile
}

// AddHost registers an enrolled host.
func (s *IPAServer) AddHost(fqdn string, hasKeytab bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[fqdn] = map[string]any{
		"fqdn":       []any{fqdn},
		"has_keytab": hasKeytab,
	}
}

// RemoveHost deletes a host entry and drops it from every managedby list.
func (s *IPAServer) RemoveHost(fqdn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, fqdn)
	for _, svc := range s.services {
		kept := []any{}
		for _, h := range svc["managedby_host"].([]any) {
			if h != fqdn {
				kept = append(kept, h)
			}
		}
		svc["managedby_host"] = kept
	}
}

// AddService registers a service principal managed by hosts.
func (s *IPAServer) AddService(principal, serial string, hosts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	managed := make([]any, 0, len(hosts))
	for _, h := range hosts {
		managed = append(managed, h)
	}
	entry := map[string]any{
		"krbprincipalname": []any{principal},
		"managedby_host":   managed,
		"has_keytab":       true,
	}
	if serial != "" {
		// FreeIPA returns serials as JSON integers.
		entry["serial_number"] = []any{json.Number(serial)}
		s.certs[serial] = false
	}
	s.services[principal] = entry
}

// RemoveService deletes a service principal and revokes its certificate.
func (s *IPAServer) RemoveService(principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[principal]; ok {
		if serial, ok := svc["serial_number"].([]any); ok && len(serial) > 0 {
			s.certs[string(serial[0].(json.Number))] = true
		}
	}
	delete(s.services, principal)
}

// ExpireSessions invalidates every session cookie.
func (s *IPAServer) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// SetDown makes the server drop every connection.
func (s *IPAServer) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Logins returns the number of successful Kerberos logins.
func (s *IPAServer) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Calls returns how often method was answered.
func (s *IPAServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *IPAServer) unlessDown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			hj, ok := w.(http.Hijacker)
			if ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *IPAServer) login(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = true
	s.logins++
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/ipa", Secure: true, HttpOnly: true})
	w.WriteHeader(http.StatusOK)
}

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int               `json:"id"`
}

func (s *IPAServer) json(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.Header.Get("Referer"), "/ipa") {
		http.Error(w, "missing referer", http.StatusBadRequest)
		return
	}
	c, err := r.Cookie(sessionCookie)

	s.mu.Lock()
	valid := err == nil && s.sessions[c.Value]
	s.mu.Unlock()
	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil || len(call.Params) != 2 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var args []string
	var opts map[string]any
	_ = json.Unmarshal(call.Params[0], &args)
	_ = json.Unmarshal(call.Params[1], &opts)

	s.mu.Lock()
	s.calls[call.Method]++
	result, rpcErr := s.dispatch(call.Method, args, opts)
	s.mu.Unlock()

	resp := map[string]any{"id": call.ID, "principal": "nova", "version": opts["version"]}
	if rpcErr != nil {
		resp["error"] = rpcErr
		resp["result"] = nil
	} else {
		resp["error"] = nil
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func notFound(what string) map[string]any {
	return map[string]any{"code": 4001, "name": "NotFound", "message": what + " not found"}
}

func arg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// dispatch runs with s.mu held.
func (s *IPAServer) dispatch(method string, args []string, opts map[string]any) (map[string]any, map[string]any) {
	switch method {
	case "ping":
		return map[string]any{"summary": "IPA server version 4.12.2. API version 2.254"}, nil

	case "host_find":
		var out []any
		if h, ok := s.hosts[arg(args)]; ok {
			out = append(out, h)
		}
		return list(out), nil

	case "host_show":
		h, ok := s.hosts[arg(args)]
		if !ok {
			return nil, notFound(arg(args) + ": host")
		}
		return map[string]any{"result": h, "value": arg(args), "summary": nil}, nil

	case "service_find":
		var out []any
		if host, ok := opts["man_by_host"].(string); ok {
			for _, svc := range s.services {
				for _, h := range svc["managedby_host"].([]any) {
					if h == host {
						out = append(out, svc)
						break
					}
				}
			}
		} else if svc, ok := s.services[arg(args)]; ok {
			out = append(out, svc)
		}
		return list(out), nil

	case "service_show":
		svc, ok := s.services[arg(args)]
		if !ok {
			return nil, notFound(arg(args) + ": service")
		}
		return map[string]any{"result": svc, "value": arg(args), "summary": nil}, nil

	case "cert_show":
		revoked, ok := s.certs[arg(args)]
		if !ok {
			return nil, notFound("certificate " + arg(args))
		}
		return map[string]any{"result": map[string]any{
			"serial_number": arg(args),
			"revoked":       revoked,
		}}, nil

	default:
		return nil, map[string]any{"code": 2000, "name": "CommandError", "message": "unknown command '" + method + "'"}
	}
}

func list(entries []any) map[string]any {
	if entries == nil {
		entries = []any{}
	}
	return map[string]any{"result": entries, "count": len(entries), "truncated": false}
}
