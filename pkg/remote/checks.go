package remote

import (
	"context"
	"errors"
	"strings"
)

// DefaultCAFile is where ipa-client-install drops the realm CA.
const DefaultCAFile = "/etc/ipa/ca.crt"

// HostIsIPAClient reports whether host resolves the directory's admin user,
// which only works once it is an IPA client.
func HostIsIPAClient(ctx context.Context, r Runner, host string) (bool, error) {
	res, err := r.Run(ctx, host, "id admin")
	if err != nil {
		// id exits 1 for an unknown user.
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return false, nil
		}
		return false, err
	}
	for _, want := range []string{"uid", "gid", "groups"} {
		if !strings.Contains(res.Stdout, want) {
			return false, nil
		}
	}
	return true, nil
}

// CertTracked reports whether certmonger on host tracks a certificate
// whose subject contains cn.
func CertTracked(ctx context.Context, r Runner, host, cn string) (bool, error) {
	res, err := r.Run(ctx, host, "sudo getcert list")
	if err != nil {
		return false, err
	}
	return strings.Contains(res.Stdout, cn), nil
}

// TLSConnection reports whether host can open a verified TLS connection to
// hostport, using caFile as trust anchor.
func TLSConnection(ctx context.Context, r Runner, host, hostport, caFile string) (bool, error) {
	if caFile == "" {
		caFile = DefaultCAFile
	}
	cmd := "echo | openssl s_client -connect " + shellQuote(hostport) + " -CAfile " + shellQuote(caFile) + " 2>&1"
	res, err := r.Run(ctx, host, cmd)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(res.Stdout, "CONNECTED") &&
		strings.Contains(res.Stdout, "Verify return code: 0 (ok)"), nil
}

// ReadFile returns the contents of a root-owned file on host.
func ReadFile(ctx context.Context, r Runner, host, path string) (string, error) {
	res, err := r.Run(ctx, host, "sudo cat "+shellQuote(path))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
