package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alexieff-io/cap-discovery/internal/consul"
	"github.com/alexieff-io/cap-discovery/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Discovery is the subset of consul.NodeDiscovery the reconciler drives.
type Discovery interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
	ListNodes(ctx context.Context) ([]consul.Node, error)
}

// Publisher receives each refreshed node snapshot.
type Publisher interface {
	Publish(ctx context.Context, nodes []consul.Node) error
	Remove(ctx context.Context) error
}

// Snapshot is where the HTTP layer reads nodes and readiness from.
type Snapshot interface {
	SetNodes(nodes []consul.Node)
	SetReady()
}

// Reconciler keeps the local node registered and the peer list fresh.
type Reconciler struct {
	discovery        Discovery
	snapshot         Snapshot
	publisher        Publisher
	refreshInterval  time.Duration
	removeOnShutdown bool
}

// New creates a new Reconciler. publisher may be nil.
func New(discovery Discovery, snapshot Snapshot, publisher Publisher, refreshInterval time.Duration, removeOnShutdown bool) *Reconciler {
	return &Reconciler{
		discovery:        discovery,
		snapshot:         snapshot,
		publisher:        publisher,
		refreshInterval:  refreshInterval,
		removeOnShutdown: removeOnShutdown,
	}
}

// Run registers the node and refreshes peers until ctx is cancelled, then
// deregisters.
func (r *Reconciler) Run(ctx context.Context) error {
	registered := r.register(ctx)
	r.refresh(ctx)

	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()

	slog.Info("reconciler started", "refresh_interval", r.refreshInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler shutting down")
			r.shutdown(registered)
			return ctx.Err()

		case <-ticker.C:
			if !registered {
				registered = r.register(ctx)
			}
			r.refresh(ctx)
		}
	}
}

func (r *Reconciler) register(ctx context.Context) bool {
	if err := r.discovery.Register(ctx); err != nil {
		metrics.RegisterTotal.WithLabelValues("error").Inc()
		return false
	}
	metrics.RegisterTotal.WithLabelValues("success").Inc()
	return true
}

func (r *Reconciler) refresh(ctx context.Context) {
	nodes, err := r.discovery.ListNodes(ctx)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		return
	}

	metrics.Nodes.Set(float64(len(nodes)))
	r.snapshot.SetNodes(nodes)

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, nodes); err != nil {
			slog.Error("publish failed", "error", err)
			metrics.RefreshTotal.WithLabelValues("error").Inc()
			return
		}
	}

	metrics.RefreshTotal.WithLabelValues("success").Inc()
	r.snapshot.SetReady()
	slog.Info("refresh complete", "nodes", len(nodes))
}

func (r *Reconciler) shutdown(registered bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if registered {
		if err := r.discovery.Deregister(ctx); err != nil {
			slog.Error("deregister failed", "error", err)
		}
	}
	if r.publisher != nil && r.removeOnShutdown {
		if err := r.publisher.Remove(ctx); err != nil {
			slog.Error("removing node snapshot failed", "error", err)
		}
	}
}
