package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns a service's Prometheus metrics. Every metric it
// creates is prefixed with the service name, so telegraph exposes
// telegraph_http_requests_total, telegraph_db_queries_total and so on.
type MetricsCollector struct {
	prefix string

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inflight  prometheus.Gauge
	buildInfo *prometheus.GaugeVec

	custom map[string]prometheus.Collector
}

// NewMetricsCollector registers the standard HTTP metrics for serviceName
// and records the running build as a constant gauge.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	// Prometheus metric names cannot contain hyphens.
	mc := &MetricsCollector{
		prefix: strings.ReplaceAll(serviceName, "-", "_"),
		custom: make(map[string]prometheus.Collector),
	}

	mc.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.prefix + "_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	mc.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    mc.prefix + "_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	mc.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: mc.prefix + "_active_connections",
		Help: "Number of HTTP requests currently being served",
	})

	mc.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: mc.prefix + "_service_info",
		Help: "Build information for the running service",
	}, []string{"version", "commit"})

	prometheus.MustRegister(mc.requests, mc.latency, mc.inflight, mc.buildInfo)
	mc.buildInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

func (mc *MetricsCollector) register(name string, collector prometheus.Collector) {
	mc.custom[name] = collector
	prometheus.MustRegister(collector)
}

// MetricsMiddleware instruments every request with the standard HTTP
// metrics. Unrouted paths are collapsed into one label value to keep the
// endpoint cardinality bounded.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		mc.inflight.Inc()
		defer mc.inflight.Dec()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unrouted"
		}
		status := strconv.Itoa(c.Writer.Status())
		mc.requests.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		mc.latency.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	scrape := promhttp.Handler()
	return func(c *gin.Context) {
		scrape.ServeHTTP(c.Writer, c.Request)
	}
}

// NewCounter registers a service-prefixed counter.
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.prefix + "_" + name,
		Help: help,
	}, labels)
	mc.register(name, counter)
	return counter
}

// NewGauge registers a service-prefixed gauge.
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: mc.prefix + "_" + name,
		Help: help,
	}, labels)
	mc.register(name, gauge)
	return gauge
}

// NewHistogram registers a service-prefixed histogram. A nil buckets slice
// selects the Prometheus defaults.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    mc.prefix + "_" + name,
		Help:    help,
		Buckets: buckets,
	}, labels)
	mc.register(name, histogram)
	return histogram
}

// CreateDatabaseMetrics registers the query counter, query duration
// histogram and connection gauge the store reports into.
func (mc *MetricsCollector) CreateDatabaseMetrics() (
	*prometheus.CounterVec,
	*prometheus.HistogramVec,
	*prometheus.GaugeVec,
) {
	queries := mc.NewCounter("db_queries_total", "Total database queries", []string{"query_type", "status"})
	duration := mc.NewHistogram("db_query_duration_seconds", "Database query duration", []string{"query_type"}, nil)
	connections := mc.NewGauge("db_connections_active", "Active database connections", []string{"database"})
	return queries, duration, connections
}

// CreateKafkaMetrics registers the publish counter, operation duration
// histogram and lag gauge the event publisher reports into.
func (mc *MetricsCollector) CreateKafkaMetrics() (
	*prometheus.CounterVec,
	*prometheus.HistogramVec,
	*prometheus.GaugeVec,
) {
	messages := mc.NewCounter("kafka_messages_total", "Total Kafka messages", []string{"topic", "operation", "status"})
	duration := mc.NewHistogram("kafka_operation_duration_seconds", "Kafka operation duration", []string{"operation"}, nil)
	lag := mc.NewGauge("kafka_consumer_lag", "Kafka consumer lag", []string{"topic", "partition"})
	return messages, duration, lag
}
