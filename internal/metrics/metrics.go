package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Nodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cap_discovery_nodes",
		Help: "Number of CAP nodes returned by the last successful listing",
	})

	ConsulErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cap_discovery_consul_errors_total",
		Help: "Total errors communicating with Consul, by kind",
	}, []string{"op", "kind"})

	RegisterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cap_discovery_register_total",
		Help: "Total service registrations attempted",
	}, []string{"status"})

	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cap_discovery_refresh_total",
		Help: "Total node list refreshes performed",
	}, []string{"status"})

	KubernetesErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cap_discovery_kubernetes_errors_total",
		Help: "Total errors communicating with the Kubernetes API",
	})
)
