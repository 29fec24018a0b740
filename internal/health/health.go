package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexieff-io/cap-discovery/internal/cache"
	"github.com/alexieff-io/cap-discovery/internal/consul"
)

// CountReader reads back the published node count.
type CountReader interface {
	Get(ctx context.Context, key string) (int64, bool, error)
}

// Server serves the dashboard health check Consul polls, the latest node
// snapshot, and the usual health/metrics endpoints.
type Server struct {
	addr      string
	matchPath string
	counts    CountReader
	ready     atomic.Bool
	server    *http.Server
	version   string
	commit    string

	mu    sync.RWMutex
	nodes []consul.Node
}

// NewServer creates a new health/API server. counts may be nil.
func NewServer(addr, matchPath string, counts CountReader, version, commit string) *Server {
	return &Server{
		addr:      addr,
		matchPath: strings.TrimSuffix(matchPath, "/"),
		counts:    counts,
		version:   version,
		commit:    commit,
		nodes:     []consul.Node{},
	}
}

// SetReady marks the server as ready (called after first successful refresh).
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// SetNodes replaces the node snapshot served on /api/nodes.
func (s *Server) SetNodes(nodes []consul.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
		}
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"version": s.version,
			"commit":  s.commit,
		})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET "+s.matchPath+"/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Healthy"))
	})

	mux.HandleFunc("GET "+s.matchPath+"/api/nodes", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.RLock()
		nodes := s.nodes
		s.mu.RUnlock()
		writeJSON(w, nodes)
	})

	mux.HandleFunc("GET "+s.matchPath+"/api/nodes/count", func(w http.ResponseWriter, r *http.Request) {
		if s.counts == nil {
			http.Error(w, "count unavailable", http.StatusServiceUnavailable)
			return
		}
		n, ok, err := s.counts.Get(r.Context(), cache.NodeCountKey)
		if err != nil || !ok {
			http.Error(w, "count unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]int64{"count": n})
	})

	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
