package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/cache"
	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
)

func newTestServer(t *testing.T, opts ...cache.ManagerOption) (*Server, *cache.Manager) {
	t.Helper()
	m := cache.New(context.Background(), cache.DefaultConfig(), opts...)
	t.Cleanup(func() { _ = m.Destroy() })
	return NewServer(DefaultServerConfig(), m, nil), m
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}
	return w, resp
}

func TestNewServer(t *testing.T) {
	s, _ := newTestServer(t)

	require.NotNil(t, s)
	assert.NotNil(t, s.httpServer)
	assert.NotNil(t, s.Handler())
	assert.Equal(t, DefaultServerConfig().Address, s.httpServer.Addr)
}

func TestHandleHealth(t *testing.T) {
	t.Run("memory only is degraded", func(t *testing.T) {
		s, m := newTestServer(t)

		w, resp := do(t, s, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "degraded", resp["status"])
		assert.Equal(t, m.InstanceID(), resp["instance"])

		caps := resp["capabilities"].(map[string]interface{})
		assert.Equal(t, false, caps["durable"])
		assert.Equal(t, "gzip", caps["compression"])
	})

	t.Run("durable store is healthy", func(t *testing.T) {
		fs, err := store.NewFileStore(&store.FileConfig{Directory: t.TempDir()}, nil)
		require.NoError(t, err)
		s, _ := newTestServer(t, cache.WithStore(fs))

		_, resp := do(t, s, http.MethodGet, "/health", "")
		assert.Equal(t, "healthy", resp["status"])
	})
}

func TestCacheRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := do(t, s, http.MethodPut, "/cache/sheet-1?ttl=1h&priority=2&tags=file,upload", `{"rows":[[1,2],[3,4]]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["stored"])

	w, resp = do(t, s, http.MethodGet, "/cache/sheet-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sheet-1", resp["key"])
	assert.Equal(t, map[string]interface{}{
		"rows": []interface{}{[]interface{}{1.0, 2.0}, []interface{}{3.0, 4.0}},
	}, resp["value"])

	w, resp = do(t, s, http.MethodDelete, "/cache/sheet-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["deleted"])

	w, resp = do(t, s, http.MethodGet, "/cache/sheet-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp["error"], "sheet-1")
}

func TestPutValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"bad ttl", "/cache/k?ttl=soon", `1`, http.StatusBadRequest},
		{"negative ttl", "/cache/k?ttl=-1s", `1`, http.StatusBadRequest},
		{"bad priority", "/cache/k?priority=high", `1`, http.StatusBadRequest},
		{"bad compress", "/cache/k?compress=maybe", `1`, http.StatusBadRequest},
		{"not json", "/cache/k", `{rows`, http.StatusBadRequest},
		{"empty body", "/cache/k", ``, http.StatusBadRequest},
		{"null is a value", "/cache/k?compress=false", `null`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, s, http.MethodPut, tt.target, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPutBodyLimit(t *testing.T) {
	m := cache.New(context.Background(), cache.DefaultConfig())
	t.Cleanup(func() { _ = m.Destroy() })
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	s := NewServer(cfg, m, nil)

	w, _ := do(t, s, http.MethodPut, "/cache/k", `"`+strings.Repeat("x", 64)+`"`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestInvalidateAndClear(t *testing.T) {
	s, m := newTestServer(t)
	ctx := context.Background()

	m.Set(ctx, "a", 1, cache.WithTags("filter"))
	m.Set(ctx, "b", 2, cache.WithTags("filter"))
	m.Set(ctx, "c", 3)

	w, resp := do(t, s, http.MethodPost, "/invalidate/filter", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, resp["removed"])
	assert.Equal(t, 1, m.Stats().MemoryItems)

	w, resp = do(t, s, http.MethodDelete, "/cache", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["cleared"])
	assert.Equal(t, 0, m.Stats().MemoryItems)
}

func TestHandleStats(t *testing.T) {
	m := cache.New(context.Background(), cache.DefaultConfig())
	t.Cleanup(func() { _ = m.Destroy() })
	s := NewServer(DefaultServerConfig(), m, nil, WithOperations(func() any {
		return map[string]int{"get": 3}
	}))

	ctx := context.Background()
	m.Set(ctx, "k", "v")
	m.Get(ctx, "k")
	m.Get(ctx, "missing")

	w, resp := do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := resp["stats"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["hits"])
	assert.Equal(t, 1.0, stats["misses"])
	assert.Equal(t, 50.0, stats["hitRate"])
	assert.Equal(t, map[string]interface{}{"get": 3.0}, resp["operations"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := cache.New(context.Background(), cache.DefaultConfig())
	t.Cleanup(func() { _ = m.Destroy() })

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("sheetcache_memory_items 0\n"))
	})

	without := NewServer(DefaultServerConfig(), m, nil)
	w, _ := do(t, without, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	with := NewServer(DefaultServerConfig(), m, nil, WithMetricsHandler("", metrics))
	w, _ = do(t, with, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sheetcache_memory_items")
}

func TestRouting(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := do(t, s, http.MethodPost, "/cache/k", `1`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", resp["error"])

	w, _ = do(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	m := cache.New(context.Background(), cache.DefaultConfig())
	t.Cleanup(func() { _ = m.Destroy() })
	cfg := DefaultServerConfig()
	cfg.EnableCORS = true
	s := NewServer(cfg, m, nil)

	w, _ := do(t, s, http.MethodOptions, "/cache/k", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}
