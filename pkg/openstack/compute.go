// Package openstack drives the compute cloud: it looks up the instances
// under verification and, for the scenario suite, boots and deletes them.
//
// Credentials come from the standard OS_* environment variables.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	gopenstack "github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/marmos91/joincheck/internal/logger"
	"github.com/marmos91/joincheck/internal/telemetry"
	"github.com/marmos91/joincheck/pkg/config"
)

var (
	// ErrServerNotFound is returned when no server has the requested name.
	ErrServerNotFound = errors.New("server not found")
	// ErrAmbiguousName is returned when several servers share a name.
	ErrAmbiguousName = errors.New("server name is ambiguous")
	// ErrNoAddress is returned when a server has no address on a network.
	ErrNoAddress = errors.New("server has no address on network")
	// ErrNetworkNotFound is returned when no network has the requested name.
	ErrNetworkNotFound = errors.New("network not found")
)

// Compute wraps the compute, networking and image service clients.
type Compute struct {
	compute *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
	image   *gophercloud.ServiceClient
	cfg     config.OpenStackConfig
	poll    config.PollConfig
}

// NewFromEnv authenticates with the OS_* environment and builds the
// service clients for cfg.Region.
func NewFromEnv(ctx context.Context, cfg config.OpenStackConfig, poll config.PollConfig) (*Compute, error) {
	opts, err := gopenstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("openstack credentials: %w", err)
	}
	opts.AllowReauth = true

	provider, err := gopenstack.AuthenticatedClient(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("authenticate to %s: %w", opts.IdentityEndpoint, err)
	}

	eo := gophercloud.EndpointOpts{Region: cfg.Region}
	compute, err := gopenstack.NewComputeV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("compute endpoint: %w", err)
	}
	network, err := gopenstack.NewNetworkV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("network endpoint: %w", err)
	}

	image, err := gopenstack.NewImageV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("image endpoint: %w", err)
	}

	return New(compute, network, image, cfg, poll), nil
}

// New wraps existing service clients. network may be nil when networks
// are only referenced by ID, image when image properties are never read.
func New(compute, network, image *gophercloud.ServiceClient, cfg config.OpenStackConfig, poll config.PollConfig) *Compute {
	if poll.Interval <= 0 {
		poll.Interval = 5 * time.Second
	}
	if poll.Timeout <= 0 {
		poll.Timeout = 10 * time.Minute
	}
	return &Compute{compute: compute, network: network, image: image, cfg: cfg, poll: poll}
}

// FindServer returns the one server named name.
func (c *Compute) FindServer(ctx context.Context, name string) (*servers.Server, error) {
	ctx, span := telemetry.StartOpenStackSpan(ctx, "find_server", telemetry.ServerName(name))
	defer span.End()

	// The name filter is a regular expression on the server side.
	pages, err := servers.List(c.compute, servers.ListOpts{Name: "^" + name + "$"}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers named %s: %w", name, err)
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("decode server list: %w", err)
	}

	var matches []servers.Server
	for _, s := range all {
		if s.Name == name {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d servers named %s", ErrAmbiguousName, len(matches), name)
	}
}

// Server returns the server with id.
func (c *Compute) Server(ctx context.Context, id string) (*servers.Server, error) {
	s, err := servers.Get(ctx, c.compute, id).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("get server %s: %w", id, err)
	}
	return s, nil
}

// Metadata returns the server's metadata.
func (c *Compute) Metadata(ctx context.Context, id string) (map[string]string, error) {
	md, err := servers.Metadata(ctx, c.compute, id).Extract()
	if err != nil {
		return nil, fmt.Errorf("server %s metadata: %w", id, err)
	}
	return md, nil
}

// ImageProperties returns the string properties of the image s was booted
// from. Servers booted from a volume have no image and yield nil.
func (c *Compute) ImageProperties(ctx context.Context, s *servers.Server) (map[string]string, error) {
	id, _ := s.Image["id"].(string)
	if id == "" {
		return nil, nil
	}
	if c.image == nil {
		return nil, errors.New("no image client configured")
	}

	img, err := images.Get(ctx, c.image, id).Extract()
	if err != nil {
		return nil, fmt.Errorf("image %s of server %s: %w", id, s.Name, err)
	}
	props := make(map[string]string, len(img.Properties))
	for k, v := range img.Properties {
		if str, ok := v.(string); ok {
			props[k] = str
		}
	}
	return props, nil
}

// SetImageProperties adds or replaces properties on image id.
func (c *Compute) SetImageProperties(ctx context.Context, id string, props map[string]string) error {
	if c.image == nil {
		return errors.New("no image client configured")
	}
	img, err := images.Get(ctx, c.image, id).Extract()
	if err != nil {
		return fmt.Errorf("get image %s: %w", id, err)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make(images.UpdateOpts, 0, len(keys))
	for _, k := range keys {
		op := images.AddOp
		if _, ok := img.Properties[k]; ok {
			op = images.ReplaceOp
		}
		opts = append(opts, images.UpdateImageProperty{Op: op, Name: k, Value: props[k]})
	}
	if _, err := images.Update(ctx, c.image, id, opts).Extract(); err != nil {
		return fmt.Errorf("update image %s: %w", id, err)
	}
	logger.InfoCtx(ctx, "Image properties set", "image", id, "keys", keys)
	return nil
}

// RemoveImageProperties removes the named properties from image id. Names
// the image does not carry are skipped.
func (c *Compute) RemoveImageProperties(ctx context.Context, id string, names ...string) error {
	if c.image == nil {
		return errors.New("no image client configured")
	}
	img, err := images.Get(ctx, c.image, id).Extract()
	if err != nil {
		return fmt.Errorf("get image %s: %w", id, err)
	}

	var opts images.UpdateOpts
	for _, name := range names {
		if _, ok := img.Properties[name]; ok {
			opts = append(opts, images.UpdateImageProperty{Op: images.RemoveOp, Name: name})
		}
	}
	if len(opts) == 0 {
		return nil
	}
	if _, err := images.Update(ctx, c.image, id, opts).Extract(); err != nil {
		return fmt.Errorf("update image %s: %w", id, err)
	}
	return nil
}

// Address returns the server's address on network, or on the configured
// network when network is empty. Floating addresses win over fixed ones.
func (c *Compute) Address(s *servers.Server, network string) (string, error) {
	if network == "" {
		network = c.cfg.Network
	}

	entries, ok := s.Addresses[network].([]any)
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrNoAddress, s.Name, network)
	}

	var fixed string
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		addr, _ := m["addr"].(string)
		if addr == "" {
			continue
		}
		if kind, _ := m["OS-EXT-IPS:type"].(string); kind == "floating" {
			return addr, nil
		}
		if fixed == "" {
			fixed = addr
		}
	}
	if fixed == "" {
		return "", fmt.Errorf("%w: %s on %s", ErrNoAddress, s.Name, network)
	}
	return fixed, nil
}

// NetworkID resolves a network name.
func (c *Compute) NetworkID(ctx context.Context, name string) (string, error) {
	if c.network == nil {
		return "", errors.New("no networking client configured")
	}
	pages, err := networks.List(c.network, networks.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return "", fmt.Errorf("list networks named %s: %w", name, err)
	}
	all, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", fmt.Errorf("decode network list: %w", err)
	}
	if len(all) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
	}
	return all[0].ID, nil
}

// BootRequest describes a guest to create.
type BootRequest struct {
	Name     string
	Metadata map[string]string

	// ImageProperties are set on the image before the server is created,
	// so novajoin sees them through the image rather than the server.
	ImageProperties map[string]string

	// Image, Flavor, Network and KeyName default to the configured values.
	Image   string
	Flavor  string
	Network string
	KeyName string
}

// Boot creates a server and waits until it is ACTIVE.
func (c *Compute) Boot(ctx context.Context, req BootRequest) (*servers.Server, error) {
	ctx, span := telemetry.StartOpenStackSpan(ctx, "boot", telemetry.ServerName(req.Name))
	defer span.End()

	if req.Image == "" {
		req.Image = c.cfg.Image
	}
	if req.Flavor == "" {
		req.Flavor = c.cfg.Flavor
	}
	if req.Network == "" {
		req.Network = c.cfg.Network
	}
	if req.KeyName == "" {
		req.KeyName = c.cfg.KeyName
	}

	netID, err := c.NetworkID(ctx, req.Network)
	if err != nil {
		return nil, err
	}

	if len(req.ImageProperties) > 0 {
		if err := c.SetImageProperties(ctx, req.Image, req.ImageProperties); err != nil {
			return nil, err
		}
	}

	created, err := servers.Create(ctx, c.compute, keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:      req.Name,
			ImageRef:  req.Image,
			FlavorRef: req.Flavor,
			Networks:  []servers.Network{{UUID: netID}},
			Metadata:  req.Metadata,
		},
		KeyName: req.KeyName,
	}, nil).Extract()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("create server %s: %w", req.Name, err)
	}
	telemetry.SetAttributes(ctx, telemetry.ServerID(created.ID))

	logger.InfoCtx(ctx, "Server created, waiting for ACTIVE",
		logger.KeyServer, req.Name,
		"id", created.ID,
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.poll.Timeout)
	defer cancel()
	if err := servers.WaitForStatus(waitCtx, c.compute, created.ID, "ACTIVE"); err != nil {
		return nil, fmt.Errorf("server %s did not become ACTIVE: %w", req.Name, err)
	}
	return c.Server(ctx, created.ID)
}

// Delete deletes a server and waits until it is gone.
func (c *Compute) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartOpenStackSpan(ctx, "delete", telemetry.ServerID(id))
	defer span.End()

	if err := servers.Delete(ctx, c.compute, id).ExtractErr(); err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil
		}
		return fmt.Errorf("delete server %s: %w", id, err)
	}

	err := wait.PollUntilContextTimeout(ctx, c.poll.Interval, c.poll.Timeout, true, func(ctx context.Context) (bool, error) {
		_, err := servers.Get(ctx, c.compute, id).Extract()
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("server %s was not deleted: %w", id, err)
	}
	logger.InfoCtx(ctx, "Server deleted", "id", id)
	return nil
}
