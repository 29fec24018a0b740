package consul

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/alexieff-io/cap-discovery/internal/cache"
)

const (
	// CapabilityTag filters the catalog down to CAP dashboard instances.
	CapabilityTag = "CAP"

	healthPath = "/api/health"

	clientWaitTime      = 5 * time.Second
	checkInterval       = 10 * time.Second
	deregisterAfter     = 30 * time.Second
	nodeCountTTL        = 60 * time.Second
	nodeCountFailureTTL = 20 * time.Second
)

var baseTags = []string{CapabilityTag, "Client", "Dashboard"}

// NodeDiscovery registers the local dashboard in Consul and looks up its
// peers. It holds no connection; every call opens its own client.
type NodeDiscovery struct {
	opts  Options
	cache cache.Cache
}

// New creates a NodeDiscovery. The node count is published to c.
func New(opts Options, c cache.Cache) *NodeDiscovery {
	opts.CustomTags = slices.Clone(opts.CustomTags)
	return &NodeDiscovery{opts: opts, cache: c}
}

// withClient runs fn against a fresh Consul client and closes its
// connections afterwards.
func (d *NodeDiscovery) withClient(fn func(*api.Client) error) error {
	cfg := api.DefaultNonPooledConfig()
	cfg.Address = net.JoinHostPort(d.opts.DiscoveryServerHostName, strconv.Itoa(d.opts.DiscoveryServerPort))
	if d.opts.DiscoveryServerScheme != "" {
		cfg.Scheme = d.opts.DiscoveryServerScheme
	}
	if d.opts.Datacenter != "" {
		cfg.Datacenter = d.opts.Datacenter
	}
	if d.opts.Token != "" {
		cfg.Token = d.opts.Token
	}
	cfg.WaitTime = clientWaitTime
	if cfg.Transport != nil {
		defer cfg.Transport.CloseIdleConnections()
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("%w: creating consul client: %w", ErrBackendUnavailable, err)
	}
	return fn(client)
}

// FindNode returns the first CAP instance registered under serviceName.
// The node is nil whenever err is non-nil; ErrNotFound, ErrBackendUnavailable
// and ErrCancelled tell the cases apart.
func (d *NodeDiscovery) FindNode(ctx context.Context, serviceName string) (*Node, error) {
	var node *Node
	err := d.withClient(func(client *api.Client) error {
		q := (&api.QueryOptions{}).WithContext(ctx)
		services, _, err := client.Catalog().Service(serviceName, CapabilityTag, q)
		if err != nil {
			return classify(ctx, "find_node", err)
		}
		if len(services) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, serviceName)
		}
		n := toNode(services[0])
		node = &n
		return nil
	})
	if err != nil {
		slog.Info("no node found", "service", serviceName, "error", err)
		return nil, err
	}
	return node, nil
}

// ListNodes returns every CAP instance across all service names and
// publishes the count under cache.NodeCountKey. On failure it publishes 0
// with a shorter expiry and returns a nil slice; success with no services
// yields an empty, non-nil slice.
func (d *NodeDiscovery) ListNodes(ctx context.Context) ([]Node, error) {
	nodes := []Node{}
	err := d.withClient(func(client *api.Client) error {
		catalog, _, err := client.Catalog().Services((&api.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return classify(ctx, "list_services", err)
		}

		names := make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			services, _, err := client.Catalog().Service(name, CapabilityTag, (&api.QueryOptions{}).WithContext(ctx))
			if err != nil {
				return classify(ctx, "list_nodes", err)
			}
			for _, svc := range services {
				nodes = append(nodes, toNode(svc))
			}
		}
		return nil
	})
	if err != nil {
		d.publishCount(ctx, 0, nodeCountFailureTTL)
		slog.Error("failed to list nodes", "error", err)
		return nil, err
	}

	d.publishCount(ctx, int64(len(nodes)), nodeCountTTL)
	return nodes, nil
}

func (d *NodeDiscovery) publishCount(ctx context.Context, count int64, ttl time.Duration) {
	if d.cache == nil {
		return
	}
	// The count is written even when ctx was cancelled mid-listing.
	if err := d.cache.Upsert(context.WithoutCancel(ctx), cache.NodeCountKey, count, ttl); err != nil {
		slog.Error("failed to publish node count", "key", cache.NodeCountKey, "error", err)
	}
}

// Register upserts the local node into the Consul agent, keyed by the
// lower-cased node ID.
func (d *NodeDiscovery) Register(ctx context.Context) error {
	reg := d.registration()
	err := d.withClient(func(client *api.Client) error {
		opts := api.ServiceRegisterOpts{}.WithContext(ctx)
		if err := client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
			return classify(ctx, "register", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to register node", "node_id", reg.ID, "error", err)
		return err
	}

	slog.Info("node registered",
		"node_id", reg.ID,
		"name", reg.Name,
		"address", reg.Address,
		"port", reg.Port,
		"tags", reg.Tags,
	)
	return nil
}

// Deregister removes the local node from the Consul agent.
func (d *NodeDiscovery) Deregister(ctx context.Context) error {
	id := strings.ToLower(d.opts.NodeID)
	err := d.withClient(func(client *api.Client) error {
		if err := client.Agent().ServiceDeregisterOpts(id, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
			return classify(ctx, "deregister", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("node deregistered", "node_id", id)
	return nil
}

func (d *NodeDiscovery) registration() *api.AgentServiceRegistration {
	return &api.AgentServiceRegistration{
		ID:      strings.ToLower(d.opts.NodeID),
		Name:    d.opts.NodeName,
		Address: d.opts.CurrentNodeHostName,
		Port:    d.opts.CurrentNodePort,
		Tags:    unionTags(baseTags, d.opts.CustomTags),
		Check:   d.healthCheck(),
	}
}

// healthCheck probes the dashboard over HTTP. HTTPS deployments only get a
// TCP reachability check.
func (d *NodeDiscovery) healthCheck() *api.AgentServiceCheck {
	check := &api.AgentServiceCheck{
		Interval:                       checkInterval.String(),
		DeregisterCriticalServiceAfter: deregisterAfter.String(),
		Status:                         api.HealthPassing,
	}
	hostPort := net.JoinHostPort(d.opts.CurrentNodeHostName, strconv.Itoa(d.opts.CurrentNodePort))
	if strings.EqualFold(d.opts.CurrentNodeScheme, "https") {
		check.TCP = hostPort
	} else {
		check.HTTP = "http://" + hostPort + d.opts.MatchPath + healthPath
	}
	return check
}

func unionTags(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, tag := range set {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

func toNode(svc *api.CatalogService) Node {
	return Node{
		ID:      svc.ServiceID,
		Name:    svc.ServiceName,
		Address: svc.ServiceAddress,
		Port:    svc.ServicePort,
		Tags:    strings.Join(svc.ServiceTags, ", "),
	}
}
