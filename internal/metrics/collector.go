package metrics

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
)

// Collector records cache and durable store metrics in a private Prometheus
// registry. It satisfies cache.MetricsRecorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	requestCounter    *prometheus.CounterVec
	evictionCounter   prometheus.Counter
	expirationCounter prometheus.Counter
	storeOpCounter    *prometheus.CounterVec
	storeOpDuration   *prometheus.HistogramVec
	storeErrorCounter *prometheus.CounterVec
	codecFailures     *prometheus.CounterVec
	memoryItems       prometheus.Gauge
	memoryBytes       prometheus.Gauge
	compressionRatio  prometheus.Gauge

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks durable store calls of one kind
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "sheetcache",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("metrics")
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry exposes the collector's registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest counts a cache lookup by result (hit or miss) and source tier.
func (c *Collector) RecordRequest(result, source string) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.With(prometheus.Labels{
		"type":   result,
		"source": source,
	}).Inc()
}

// RecordEviction counts entries evicted from the memory tier.
func (c *Collector) RecordEviction(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.evictionCounter.Add(float64(n))
}

// RecordExpiration counts entries removed because their TTL elapsed.
func (c *Collector) RecordExpiration(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.expirationCounter.Add(float64(n))
}

// RecordStoreOperation records one durable store call.
func (c *Collector) RecordStoreOperation(operation, collection string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	op, ok := c.operations[operation]
	if !ok {
		op = &OperationMetrics{}
		c.operations[operation] = op
	}
	op.Count++
	op.TotalDuration += duration
	if err != nil {
		op.Errors++
	}
	op.LastOperation = time.Now()
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
	c.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		c.storeErrorCounter.With(prometheus.Labels{
			"operation": operation,
			"type":      classifyError(err),
		}).Inc()
	}
	c.storeOpCounter.With(prometheus.Labels{
		"operation":  operation,
		"collection": collection,
		"status":     status,
	}).Inc()
	c.storeOpDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordCodecFailure counts a failed encode or decode.
func (c *Collector) RecordCodecFailure(operation string) {
	if !c.config.Enabled {
		return
	}
	c.codecFailures.With(prometheus.Labels{"operation": operation}).Inc()
}

// SetMemoryUsage updates the memory tier gauges.
func (c *Collector) SetMemoryUsage(items int, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.memoryItems.Set(float64(items))
	c.memoryBytes.Set(float64(bytes))
}

// SetCompressionRatio updates the running compression ratio gauge.
func (c *Collector) SetCompressionRatio(ratio float64) {
	if !c.config.Enabled {
		return
	}
	c.compressionRatio.Set(ratio)
}

// Operations returns a copy of the per-operation store statistics.
func (c *Collector) Operations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// Uptime is the time since the collector was created or last reset.
func (c *Collector) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastReset.IsZero() {
		return 0
	}
	return time.Since(c.lastReset)
}

// ResetMetrics clears the per-operation statistics. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts(counter(name, help))
	}

	// Cache metrics
	c.requestCounter = prometheus.NewCounterVec(
		counter("cache_requests_total", "Total number of cache lookups"),
		[]string{"type", "source"},
	)
	c.evictionCounter = prometheus.NewCounter(
		counter("cache_evictions_total", "Entries evicted from the memory tier"),
	)
	c.expirationCounter = prometheus.NewCounter(
		counter("cache_expirations_total", "Entries removed after their TTL elapsed"),
	)
	c.codecFailures = prometheus.NewCounterVec(
		counter("codec_failures_total", "Failed compression or decompression attempts"),
		[]string{"operation"},
	)
	c.memoryItems = prometheus.NewGauge(
		gauge("memory_items", "Entries currently held in the memory tier"),
	)
	c.memoryBytes = prometheus.NewGauge(
		gauge("memory_bytes", "Estimated size of the memory tier in bytes"),
	)
	c.compressionRatio = prometheus.NewGauge(
		gauge("compression_ratio", "Running average fraction of bytes saved by compression"),
	)

	// Durable store metrics
	c.storeOpCounter = prometheus.NewCounterVec(
		counter("store_operations_total", "Total number of durable store calls"),
		[]string{"operation", "collection", "status"},
	)
	c.storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "store_operation_duration_seconds",
			Help:        "Duration of durable store calls in seconds",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 15), // 0.5ms to ~8s
		},
		[]string{"operation"},
	)
	c.storeErrorCounter = prometheus.NewCounterVec(
		counter("store_errors_total", "Failed durable store calls by error type"),
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.evictionCounter,
		c.expirationCounter,
		c.codecFailures,
		c.memoryItems,
		c.memoryBytes,
		c.compressionRatio,
		c.storeOpCounter,
		c.storeOpDuration,
		c.storeErrorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	var ce *cerrors.CacheError
	if errors.As(err, &ce) {
		return strings.ToLower(string(ce.Code))
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "permission"), strings.Contains(errStr, "denied"):
		return "permission"
	case strings.Contains(errStr, "throttl"), strings.Contains(errStr, "slowdown"):
		return "throttling"
	default:
		return "other"
	}
}
