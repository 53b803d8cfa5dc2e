package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus instruments Telegraph populates at boot.
// The hub, the store and the event publisher share one struct and each
// observes only its own fields, so tests can hand a consumer a partial
// struct; a nil *Metrics disables observation entirely.
type Metrics struct {
	// Live delivery
	HubConnections     *prometheus.GaugeVec
	HubMessages        *prometheus.CounterVec
	HubEvictions       *prometheus.CounterVec
	MessageDeliveryLag *prometheus.HistogramVec

	// Chat events firehose
	EventsPublished *prometheus.CounterVec

	// Postgres, fed through the store's observe hook
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec

	// Kafka producer
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
}
