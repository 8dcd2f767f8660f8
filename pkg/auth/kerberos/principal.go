package kerberos

import (
	"fmt"
	"strings"
)

// ServicePrincipal builds <service>/<host>@<REALM>.
func ServicePrincipal(service, host, realm string) string {
	return fmt.Sprintf("%s/%s@%s", service, host, realm)
}

// SplitPrincipal splits name[/instance]@REALM into the name part and realm.
func SplitPrincipal(principal string) (name, realm string, err error) {
	at := strings.LastIndex(principal, "@")
	if at <= 0 || at == len(principal)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	name, realm = principal[:at], principal[at+1:]
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	return name, realm, nil
}
