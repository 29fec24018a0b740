package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/alexieff-io/cap-discovery/internal/consul"
	"github.com/alexieff-io/cap-discovery/internal/metrics"
)

const (
	fieldManager = "cap-discovery"
	managedByKey = "app.kubernetes.io/managed-by"
	managedBy    = "cap-discovery"

	NodesKey = "nodes.json"
	CountKey = "count"
)

// Publisher mirrors the discovered node list into a ConfigMap so in-cluster
// consumers can read it without talking to Consul.
type Publisher struct {
	client    kubernetes.Interface
	namespace string
	name      string
}

// NewPublisher creates a new ConfigMap publisher.
func NewPublisher(client kubernetes.Interface, namespace, name string) *Publisher {
	return &Publisher{
		client:    client,
		namespace: namespace,
		name:      name,
	}
}

// Publish server-side applies the ConfigMap holding nodes.
func (p *Publisher) Publish(ctx context.Context, nodes []consul.Node) error {
	if nodes == nil {
		nodes = []consul.Node{}
	}
	payload, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshaling nodes: %w", err)
	}

	cm := &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.name,
			Namespace: p.namespace,
			Labels: map[string]string{
				managedByKey:             managedBy,
				"app.kubernetes.io/name": p.name,
			},
		},
		Data: map[string]string{
			NodesKey: string(payload),
			CountKey: strconv.Itoa(len(nodes)),
		},
	}

	data, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("marshaling configmap: %w", err)
	}

	_, err = p.client.CoreV1().ConfigMaps(p.namespace).Patch(
		ctx, p.name, types.ApplyPatchType, data,
		metav1.PatchOptions{FieldManager: fieldManager},
	)
	if err != nil {
		metrics.KubernetesErrors.Inc()
		return fmt.Errorf("applying configmap %s/%s: %w", p.namespace, p.name, err)
	}

	slog.Info("published node snapshot", "configmap", p.name, "namespace", p.namespace, "nodes", len(nodes))
	return nil
}

// Remove deletes the ConfigMap if it is managed by cap-discovery.
func (p *Publisher) Remove(ctx context.Context) error {
	cm, err := p.client.CoreV1().ConfigMaps(p.namespace).Get(ctx, p.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("getting configmap %s/%s: %w", p.namespace, p.name, err)
	}
	if cm.Labels[managedByKey] != managedBy {
		slog.Warn("configmap not managed by cap-discovery, leaving it", "configmap", p.name)
		return nil
	}
	if err := p.client.CoreV1().ConfigMaps(p.namespace).Delete(ctx, p.name, metav1.DeleteOptions{}); err != nil {
		metrics.KubernetesErrors.Inc()
		return fmt.Errorf("deleting configmap %s/%s: %w", p.namespace, p.name, err)
	}
	return nil
}
