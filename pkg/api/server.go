// Package api provides the admin HTTP API for a cache instance.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/cache"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

// Cache is the part of cache.Manager the API drives.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, opts ...cache.Option) bool
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context)
	InvalidateByTag(ctx context.Context, tag string) int
	Stats() cache.Stats
	Capabilities() cache.Capabilities
	InstanceID() string
}

// Server provides HTTP API endpoints for inspecting and managing the cache
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	cache      Cache
	logger     *utils.StructuredLogger
	config     ServerConfig
	started    time.Time

	metricsPath    string
	metricsHandler http.Handler
	operations     func() any
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8090")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// MaxBodyBytes caps PUT /cache/{key} bodies
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
		MaxBodyBytes: 10 << 20,
	}
}

// ServerOption configures optional endpoints.
type ServerOption func(*Server)

// WithMetricsHandler mounts h at path, "/metrics" when empty.
func WithMetricsHandler(path string, h http.Handler) ServerOption {
	return func(s *Server) {
		if path == "" {
			path = "/metrics"
		}
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithOperations adds the result of fn to the /stats response under "operations".
func WithOperations(fn func() any) ServerOption {
	return func(s *Server) { s.operations = fn }
}

// NewServer creates a new API server
func NewServer(config ServerConfig, c Cache, logger *utils.StructuredLogger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}

	s := &Server{
		cache:   c,
		logger:  logger.WithComponent("api"),
		config:  config,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/cache", s.handleClear).Methods(http.MethodDelete)
	r.HandleFunc("/cache/{key}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/cache/{key}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/invalidate/{tag}", s.handleInvalidate).Methods(http.MethodPost)
	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Apply middleware
	handler := s.loggingMiddleware(r)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", map[string]interface{}{"address": s.config.Address})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", map[string]interface{}{"error": err})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	caps := s.cache.Capabilities()
	status := "healthy"
	if !caps.Durable {
		status = "degraded"
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"instance":     s.cache.InstanceID(),
		"capabilities": caps,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"timestamp":    time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{
		"stats":     s.cache.Stats(),
		"timestamp": time.Now(),
	}
	if s.operations != nil {
		resp["operations"] = s.operations()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, ok := s.cache.Get(r.Context(), key)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Key not found: "+key)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

// handlePut stores the JSON request body. Query parameters: ttl (Go duration),
// priority (integer), tags (comma separated), compress (bool).
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	opts, err := parseSetOptions(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var value any
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&value); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "Body must be a JSON value")
		return
	}

	s.cache.Set(r.Context(), key, value, opts...)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":    key,
		"stored": true,
	})
}

func parseSetOptions(r *http.Request) ([]cache.Option, error) {
	q := r.URL.Query()
	var opts []cache.Option

	if v := q.Get("ttl"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl < 0 {
			return nil, errors.New("ttl must be a non-negative duration such as 30s or 1h")
		}
		opts = append(opts, cache.WithTTL(ttl))
	}
	if v := q.Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("priority must be an integer")
		}
		opts = append(opts, cache.WithPriority(p))
	}
	if v := q.Get("tags"); v != "" {
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		opts = append(opts, cache.WithTags(tags...))
	}
	if v := q.Get("compress"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("compress must be true or false")
		}
		opts = append(opts, cache.WithCompression(b))
	}
	return opts, nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"deleted": s.cache.Delete(r.Context(), key),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear(r.Context())
	s.logger.Info("cache cleared via API")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tag":     tag,
		"removed": s.cache.InvalidateByTag(r.Context(), tag),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", map[string]interface{}{"error": err})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
