package streams

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "comicsearch",
		Subsystem: "streams",
		Name:      "published_total",
		Help:      "Envelopes appended to Redis streams by event type.",
	}, []string{"event_type"})
	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "comicsearch",
		Subsystem: "streams",
		Name:      "rejected_total",
		Help:      "Stream entries acknowledged without processing because they were malformed.",
	}, []string{"stream"})
	queueLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "comicsearch",
		Subsystem: "streams",
		Name:      "group_lag",
		Help:      "Entries not yet delivered to the consumer group.",
	}, []string{"stream", "group"})
	queuePending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "comicsearch",
		Subsystem: "streams",
		Name:      "group_pending",
		Help:      "Entries delivered to the consumer group but not acknowledged.",
	}, []string{"stream", "group"})
)

// Collectors returns the stream metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{publishedTotal, rejectedTotal, queueLag, queuePending}
}

func recordPublished(eventType string) {
	publishedTotal.WithLabelValues(eventType).Inc()
}

func recordRejected(stream string) {
	rejectedTotal.WithLabelValues(stream).Inc()
}
