package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the realtime Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tetra").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the realtime metrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithMetricsConstLabels sets constant labels for all metrics.
func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

// WithMetricsRegistry sets the Prometheus registry.
func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

// Metrics holds the realtime layer's Prometheus metrics.
type Metrics struct {
	PublishedTotal    *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	Subscriptions     *prometheus.CounterVec
	FramesDropped     prometheus.Counter
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide metrics instance, creating and
// registering it on first call.
func DefaultMetrics(opts ...MetricsOption) *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMetrics(opts...)
	})
	return globalMetrics
}

// NewMetrics creates and registers a fresh metrics set. Use a dedicated
// registry when creating more than one per process.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "tetra",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	return &Metrics{
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "realtime",
			Name:        "published_total",
			Help:        "Messages published, by event type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "realtime",
			Name:        "publish_errors_total",
			Help:        "Failed publishes, by event type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "realtime",
			Name:        "active_connections",
			Help:        "Currently open realtime connections.",
			ConstLabels: cfg.ConstLabels,
		}),
		Subscriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "realtime",
			Name:        "subscription_results_total",
			Help:        "Manual subscription outcomes, by status.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"status"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "realtime",
			Name:        "frames_dropped_total",
			Help:        "Frames dropped because a connection's send queue was full.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}
