// Package observability provides metrics collection for the audio
// processing pipeline.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auralis/auralis-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Pipeline  *metrics.PipelineMetrics
	Pool      *metrics.PoolMetrics
	Queue     *metrics.QueueMetrics
	Scheduler *metrics.SchedulerMetrics
	Quality   *metrics.QualityMetrics
	Gateway   *metrics.GatewayMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any metric collector fails to
// initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	poolMetrics, err := metrics.NewPoolMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool metrics: %w", err)
	}

	queueMetrics, err := metrics.NewQueueMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue metrics: %w", err)
	}

	schedulerMetrics, err := metrics.NewSchedulerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler metrics: %w", err)
	}

	qualityMetrics, err := metrics.NewQualityMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create quality metrics: %w", err)
	}

	gatewayMetrics, err := metrics.NewGatewayMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Pipeline:  pipelineMetrics,
		Pool:      poolMetrics,
		Queue:     queueMetrics,
		Scheduler: schedulerMetrics,
		Quality:   qualityMetrics,
		Gateway:   gatewayMetrics,
	}, nil
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Registry exposes the underlying registry for tests and ad hoc gathers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
