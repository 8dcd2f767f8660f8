package ipa

import (
	"context"
	"errors"
	"fmt"
)

// ErrServiceNotFound is returned by service lookups for a principal the
// server does not know. Callers answering yes/no questions translate it to false.
var ErrServiceNotFound = errors.New("service not found")

// Invoker dispatches one remote operation. *Session implements it.
type Invoker interface {
	Invoke(ctx context.Context, op Operation, args []any, opts map[string]any) (*Result, error)
}

// Client exposes the identity-service queries used by enrollment checks.
type Client struct {
	inv Invoker
}

// NewClient wraps inv.
func NewClient(inv Invoker) *Client {
	return &Client{inv: inv}
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) (*Result, error) {
	return c.inv.Invoke(ctx, OpPing, nil, nil)
}

// FindHost searches hosts by FQDN.
func (c *Client) FindHost(ctx context.Context, hostname string) (*Result, error) {
	return c.inv.Invoke(ctx, OpHostFind, []any{hostname}, nil)
}

// ShowHost returns the host entry.
func (c *Client) ShowHost(ctx context.Context, hostname string) (*Result, error) {
	return c.inv.Invoke(ctx, OpHostShow, []any{hostname}, nil)
}

// FindService searches services by principal.
func (c *Client) FindService(ctx context.Context, principal string) (*Result, error) {
	return c.inv.Invoke(ctx, OpServiceFind, []any{principal}, nil)
}

// ShowService returns the service entry.
func (c *Client) ShowService(ctx context.Context, principal string) (*Result, error) {
	return c.inv.Invoke(ctx, OpServiceShow, []any{principal}, nil)
}

// ShowCert returns the certificate with the given serial number.
func (c *Client) ShowCert(ctx context.Context, serial string) (*Result, error) {
	return c.inv.Invoke(ctx, OpCertShow, []any{serial}, nil)
}

// GetServiceCert returns the serial number of the certificate issued to
// principal, or "" when the service has none.
func (c *Client) GetServiceCert(ctx context.Context, principal string) (string, error) {
	res, err := c.FindService(ctx, principal)
	if err != nil {
		return "", err
	}
	entries, err := res.Entries()
	if err != nil {
		return "", fmt.Errorf("service_find %s: %w", principal, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: %s", ErrServiceNotFound, principal)
	}
	return entries[0].String("serial_number"), nil
}

// ServiceManagedByHost reports whether host is listed in the service's
// managedby_host. A missing service yields ErrServiceNotFound.
func (c *Client) ServiceManagedByHost(ctx context.Context, principal, host string) (bool, error) {
	res, err := c.ShowService(ctx, principal)
	if err != nil {
		if IsNotFound(err) {
			return false, fmt.Errorf("%w: %s: %w", ErrServiceNotFound, principal, err)
		}
		return false, err
	}
	entry, err := res.Entry()
	if err != nil {
		return false, fmt.Errorf("service_show %s: %w", principal, err)
	}
	for _, candidate := range entry.Strings("managedby_host") {
		if candidate == host {
			return true, nil
		}
	}
	return false, nil
}

// HostHasServices reports whether host manages any service.
func (c *Client) HostHasServices(ctx context.Context, host string) (bool, error) {
	res, err := c.inv.Invoke(ctx, OpServiceFind, nil, map[string]any{"man_by_host": host})
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

// HostRegistered reports whether a host entry exists.
func (c *Client) HostRegistered(ctx context.Context, host string) (bool, error) {
	res, err := c.FindHost(ctx, host)
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

// HostHasKeytab reports whether the host entry has a keytab provisioned.
// A missing host has no keytab.
func (c *Client) HostHasKeytab(ctx context.Context, host string) (bool, error) {
	res, err := c.ShowHost(ctx, host)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	entry, err := res.Entry()
	if err != nil {
		return false, fmt.Errorf("host_show %s: %w", host, err)
	}
	return entry.Bool("has_keytab"), nil
}

// ServiceExists reports whether a service entry exists for principal.
func (c *Client) ServiceExists(ctx context.Context, principal string) (bool, error) {
	res, err := c.FindService(ctx, principal)
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

// CertRevoked reports whether the certificate has been revoked.
func (c *Client) CertRevoked(ctx context.Context, serial string) (bool, error) {
	res, err := c.ShowCert(ctx, serial)
	if err != nil {
		return false, err
	}
	entry, err := res.Entry()
	if err != nil {
		return false, fmt.Errorf("cert_show %s: %w", serial, err)
	}
	return entry.Bool("revoked"), nil
}
