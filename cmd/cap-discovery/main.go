package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/alexieff-io/cap-discovery/internal/cache"
	"github.com/alexieff-io/cap-discovery/internal/config"
	"github.com/alexieff-io/cap-discovery/internal/consul"
	"github.com/alexieff-io/cap-discovery/internal/health"
	k8s "github.com/alexieff-io/cap-discovery/internal/kubernetes"
	"github.com/alexieff-io/cap-discovery/internal/reconciler"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Printf("cap-discovery %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	opts := cfg.Discovery
	slog.Info("starting cap-discovery",
		"version", version,
		"commit", commit,
		"consul_addr", fmt.Sprintf("%s:%d", opts.DiscoveryServerHostName, opts.DiscoveryServerPort),
		"datacenter", opts.Datacenter,
		"node_id", opts.NodeID,
		"node_name", opts.NodeName,
		"advertise", fmt.Sprintf("%s://%s:%d%s", opts.CurrentNodeScheme, opts.CurrentNodeHostName, opts.CurrentNodePort, opts.MatchPath),
		"custom_tags", opts.CustomTags,
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
		"cache_backend", cfg.Cache.Backend,
		"kubernetes_enabled", cfg.Kubernetes.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Node count cache
	var (
		countCache  cache.Cache
		countReader health.CountReader
	)
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		countCache, countReader = rc, rc
	default:
		mc := cache.NewMemory()
		countCache, countReader = mc, mc
	}

	// Optional ConfigMap publisher
	var publisher reconciler.Publisher
	if cfg.Kubernetes.Enabled {
		k8sClient, err := newKubernetesClient(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			slog.Error("failed to create kubernetes client", "error", err)
			os.Exit(1)
		}
		publisher = k8s.NewPublisher(k8sClient, cfg.Kubernetes.Namespace, cfg.Kubernetes.ConfigMap)
	}

	// Components
	discovery := consul.New(opts, countCache)
	healthSrv := health.NewServer(cfg.ListenAddr, opts.MatchPath, countReader, version, commit)
	rec := reconciler.New(discovery, healthSrv, publisher, cfg.RefreshInterval, cfg.Kubernetes.RemoveOnShutdown)

	// Start health/API server
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil {
			slog.Error("health server error", "error", err)
			cancel()
		}
	}()

	// Run reconciler (blocks until context cancelled)
	if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("reconciler failed", "error", err)
		os.Exit(1)
	}

	// Gracefully shut down the health server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("cap-discovery stopped")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func newKubernetesClient(kubeconfigPath string) (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		// Fallback to kubeconfig for local development
		if kubeconfigPath == "" {
			kubeconfigPath = os.Getenv("KUBECONFIG")
		}
		if kubeconfigPath == "" {
			kubeconfigPath = os.Getenv("HOME") + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("building kubeconfig: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}
