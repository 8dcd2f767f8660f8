// Package enrollment verifies that a provisioned instance was enrolled in the
// identity service, and that it was cleaned up again once deleted.
//
// The instance metadata drives what is expected: novajoin registers the host
// itself, one service per entry of compact_services for every listed network,
// and every managed_service_* value.
package enrollment

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Metadata keys novajoin reacts to.
const (
	MetaEnroll          = "ipa_enroll"
	MetaCompactServices = "compact_services"
	MetaManagedPrefix   = "managed_service_"
)

// Services lists the service principals expected for one host.
type Services struct {
	// Compact holds SERVICE/<short>.<network>.<domain>@REALM principals.
	Compact []string
	// Managed holds the managed_service_* principals.
	Managed []string
}

// All returns every principal, compact first.
func (s Services) All() []string {
	out := make([]string, 0, len(s.Compact)+len(s.Managed))
	out = append(out, s.Compact...)
	return append(out, s.Managed...)
}

// Empty reports whether no services are expected.
func (s Services) Empty() bool {
	return len(s.Compact) == 0 && len(s.Managed) == 0
}

// ParseCompactServices decodes a compact_services value, a map of service
// name to network names. Both JSON and the single-quoted form written by
// Python tooling are accepted.
func ParseCompactServices(raw string) (map[string][]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out map[string][]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if jerr := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &out); jerr != nil {
			return nil, fmt.Errorf("parse %s %q: %w", MetaCompactServices, raw, err)
		}
	}
	return out, nil
}

// CompactPrincipals expands compact services for host into principals.
// The principal host is the short host name joined with the network and
// the domain.
func CompactPrincipals(compact map[string][]string, host, domain, realm string) []string {
	short, _, _ := strings.Cut(host, ".")

	var out []string
	for service, networks := range compact {
		for _, network := range networks {
			out = append(out, withRealm(fmt.Sprintf("%s/%s.%s.%s", service, short, network, domain), realm))
		}
	}
	sort.Strings(out)
	return out
}

// ManagedPrincipals collects every managed_service_* value.
func ManagedPrincipals(metadata map[string]string, realm string) []string {
	var out []string
	for key, value := range metadata {
		if !strings.HasPrefix(key, MetaManagedPrefix) {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, withRealm(value, realm))
		}
	}
	sort.Strings(out)
	return out
}

// ServicesFromMetadata derives the expected services for host from instance metadata.
func ServicesFromMetadata(metadata map[string]string, host, domain, realm string) (Services, error) {
	compact, err := ParseCompactServices(metadata[MetaCompactServices])
	if err != nil {
		return Services{}, err
	}
	return Services{
		Compact: CompactPrincipals(compact, host, domain, realm),
		Managed: ManagedPrincipals(metadata, realm),
	}, nil
}

// EnrollRequested reports whether metadata asks for enrollment. The flag may
// also come from image properties, which metadata does not show; merge them
// first with WithImageProperties.
func EnrollRequested(metadata map[string]string) bool {
	return strings.EqualFold(strings.TrimSpace(metadata[MetaEnroll]), "true")
}

// WithImageProperties returns metadata with the enrollment keys it lacks
// filled from the properties of the image the server was booted from.
// Server metadata wins over image properties.
func WithImageProperties(metadata, props map[string]string) map[string]string {
	out := make(map[string]string, len(metadata)+len(props))
	for k, v := range props {
		if k == MetaEnroll || k == MetaCompactServices || strings.HasPrefix(k, MetaManagedPrefix) {
			out[k] = v
		}
	}
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func withRealm(principal, realm string) string {
	if realm == "" || strings.Contains(principal, "@") {
		return principal
	}
	return principal + "@" + realm
}
