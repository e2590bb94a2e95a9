// Package telemetry assembles the process metrics registry and tracer.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mohammad-safakhou/comicsearch/config"
	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
	"github.com/mohammad-safakhou/comicsearch/internal/correlation"
	"github.com/mohammad-safakhou/comicsearch/internal/dispatch"
	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
)

// Telemetry holds the registry served on /metrics and the tracer handed to components.
type Telemetry struct {
	Registry *prometheus.Registry
	Tracer   trace.Tracer
}

// Setup registers runtime and pipeline collectors on a fresh registry. Spans go to the global
// tracer provider, which stays a no-op unless one is installed; disabled telemetry uses a
// no-op tracer outright.
func Setup(cfg config.TelemetryConfig) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	all := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	all = append(all, streams.Collectors()...)
	all = append(all, correlation.Collectors()...)
	all = append(all, dispatch.Collectors()...)
	all = append(all, broadcast.Collectors()...)
	all = append(all, enumerate.Collectors()...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	name := cfg.ServiceName
	if name == "" {
		name = "comicsearch"
	}
	var tracer trace.Tracer
	if cfg.Enabled {
		tracer = otel.Tracer(name)
	} else {
		tracer = noop.NewTracerProvider().Tracer(name)
	}
	return &Telemetry{Registry: reg, Tracer: tracer}, nil
}
