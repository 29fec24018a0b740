package consul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/consul/api"

	"github.com/alexieff-io/cap-discovery/internal/metrics"
)

var (
	// ErrNotFound means Consul answered but holds no matching instance.
	ErrNotFound = errors.New("node not found")
	// ErrBackendUnavailable covers network failures, non-2xx responses and
	// undecodable bodies.
	ErrBackendUnavailable = errors.New("discovery backend unavailable")
	// ErrCancelled means the caller's context ended before Consul answered.
	ErrCancelled = errors.New("discovery cancelled")
)

// classify wraps a Consul call failure with its kind and logs it once.
func classify(ctx context.Context, op string, err error) error {
	kind := ErrBackendUnavailable
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrCancelled
	}

	attrs := []any{"op", op, "kind", kind.Error(), "error", err}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		attrs = append(attrs, "status", statusErr.Code)
	}
	slog.Error("consul call failed", attrs...)
	metrics.ConsulErrors.WithLabelValues(op, kindLabel(kind)).Inc()

	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

func kindLabel(kind error) string {
	if kind == ErrCancelled {
		return "cancelled"
	}
	return "unavailable"
}
