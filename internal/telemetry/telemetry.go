// Package telemetry wires one otel tracer (one span per tick, one child per
// agent execution) and a handful of prometheus gauges/histograms/counters
// for the tick orchestrator and job queue.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agirails/canvas-core/orchestrator"

// Tracer returns the package-wide tracer. Safe to call before any SDK is
// registered — it resolves to the otel no-op tracer in that case.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTick starts a span covering one full tick.
func StartTick(ctx context.Context, tick int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "canvas.tick", trace.WithAttributes(
		attribute.Int64("canvas.tick", tick),
	))
}

// StartAgentExecution starts a child span covering one agent's ExecuteRequest.
func StartAgentExecution(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "canvas.agent_execution", trace.WithAttributes(
		attribute.String("canvas.agent_id", agentID),
	))
}

// Metrics bundles the prometheus collectors registered by the orchestrator
// and job queue. Constructed once per process and passed down by reference.
type Metrics struct {
	TickDuration     prometheus.Histogram
	JobQueueDepth    prometheus.Gauge
	WorkerTimeouts   prometheus.Counter
	WorkerRespawns   prometheus.Counter
	AgentOpsApplied  prometheus.Counter
	AgentOpsRejected prometheus.Counter
}

// NewMetrics registers the canvas collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canvas_tick_duration_seconds",
			Help:    "Wall-clock duration of one orchestrator tick.",
			Buckets: prometheus.DefBuckets,
		}),
		JobQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_job_queue_depth",
			Help: "Number of pending+processing jobs in the service queue.",
		}),
		WorkerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_worker_timeouts_total",
			Help: "Count of ExecuteRequests that hit the kill-switch timeout.",
		}),
		WorkerRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_worker_respawns_total",
			Help: "Count of sandbox worker respawns after FATAL/timeout.",
		}),
		AgentOpsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_agent_ops_applied_total",
			Help: "Count of worker ops successfully applied to the state machine.",
		}),
		AgentOpsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_agent_ops_rejected_total",
			Help: "Count of worker op applications that failed and aborted the run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TickDuration,
			m.JobQueueDepth,
			m.WorkerTimeouts,
			m.WorkerRespawns,
			m.AgentOpsApplied,
			m.AgentOpsRejected,
		)
	}
	return m
}
