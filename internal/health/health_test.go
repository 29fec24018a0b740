package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexieff-io/cap-discovery/internal/cache"
	"github.com/alexieff-io/cap-discovery/internal/consul"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_HealthCheckUnderMatchPath(t *testing.T) {
	h := NewServer(":0", "/cap/", nil, "v1", "abc").Handler()

	rec := get(t, h, "/cap/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Healthy", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/health").Code)
}

func TestServer_HealthCheckWithoutMatchPath(t *testing.T) {
	h := NewServer(":0", "", nil, "v1", "abc").Handler()
	assert.Equal(t, http.StatusOK, get(t, h, "/api/health").Code)
}

func TestServer_Readiness(t *testing.T) {
	s := NewServer(":0", "", nil, "v1", "abc")
	h := s.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	s.SetReady()
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
}

func TestServer_Nodes(t *testing.T) {
	s := NewServer(":0", "/cap", nil, "v1", "abc")
	h := s.Handler()

	rec := get(t, h, "/cap/api/nodes")
	assert.JSONEq(t, `[]`, rec.Body.String())

	s.SetNodes([]consul.Node{{ID: "a", Name: "orders", Address: "10.0.0.1", Port: 80, Tags: "CAP"}})
	rec = get(t, h, "/cap/api/nodes")
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []consul.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "orders", nodes[0].Name)
}

func TestServer_NodeCount(t *testing.T) {
	counts := cache.NewMemory()
	h := NewServer(":0", "", counts, "v1", "abc").Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/nodes/count").Code)

	require.NoError(t, counts.Upsert(context.Background(), cache.NodeCountKey, 7, time.Minute))
	rec := get(t, h, "/api/nodes/count")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":7}`, rec.Body.String())
}

func TestServer_Version(t *testing.T) {
	rec := get(t, NewServer(":0", "", nil, "v1.2.3", "deadbeef").Handler(), "/version")
	assert.JSONEq(t, `{"version":"v1.2.3","commit":"deadbeef"}`, rec.Body.String())
}
