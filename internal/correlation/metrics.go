package correlation

import "github.com/prometheus/client_golang/prometheus"

var (
	instancesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "comicsearch",
		Subsystem: "correlation",
		Name:      "instances_live",
		Help:      "Search instances currently held by the correlation store.",
	})
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "comicsearch",
		Subsystem: "correlation",
		Name:      "events_dropped_total",
		Help:      "Push events dropped because their instance was unknown or no longer open.",
	}, []string{"reason"})
	expiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "comicsearch",
		Subsystem: "correlation",
		Name:      "expired_total",
		Help:      "Instances evicted by the timeout sweeper.",
	})
	completedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "comicsearch",
		Subsystem: "correlation",
		Name:      "completed_total",
		Help:      "Completed instances by outcome.",
	}, []string{"outcome"})
)

// Collectors returns the store's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{instancesLive, eventsDropped, expiredTotal, completedTotal}
}
