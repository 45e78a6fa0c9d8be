// Package metric is the ambient instrumentation surface: Prometheus
// counters/histograms for in-process collection plus OTel instruments for
// anyone scraping via an OTLP pipeline, mirroring the teacher's split
// between atc/metric's OTel instruments and its Prometheus registry.
package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Collection bundles every Prometheus instrument this core emits. Unlike the
// teacher's build/job/pipeline label set, labels here are pipeline-shaped:
// stage, rejection reason, LLM capability, and validator phase/result.
type Collection struct {
	SandboxesCreated   prometheus.Counter
	SandboxesDestroyed prometheus.Counter

	CandidatesSeen     prometheus.Counter
	CandidatesAccepted *prometheus.CounterVec
	CandidatesRejected *prometheus.CounterVec

	StageDuration *prometheus.HistogramVec
	LLMCallTotal  *prometheus.CounterVec
	LLMCallErrors *prometheus.CounterVec

	ValidationOutcome *prometheus.CounterVec
}

// Metrics is the process-wide instrument set, registered against the
// default registry at package init, same as the teacher registering its
// collectors eagerly rather than lazily on first use.
var Metrics = newCollection()

func newCollection() *Collection {
	c := &Collection{
		SandboxesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "sandbox",
			Name:      "created_total",
			Help:      "Number of sandboxes created.",
		}),
		SandboxesDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "sandbox",
			Name:      "destroyed_total",
			Help:      "Number of sandboxes destroyed.",
		}),
		CandidatesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "pipeline",
			Name:      "candidates_seen_total",
			Help:      "Number of candidate PRs pulled from the event source.",
		}),
		CandidatesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "pipeline",
			Name:      "candidates_accepted_total",
			Help:      "Number of candidates accepted, by stage.",
		}, []string{"stage"}),
		CandidatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "pipeline",
			Name:      "candidates_rejected_total",
			Help:      "Number of candidates rejected, by stage and reason.",
		}, []string{"stage", "reason"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskforge",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of a pipeline stage per candidate.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		LLMCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Number of LLM adapter invocations, by capability.",
		}, []string{"capability"}),
		LLMCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "llm",
			Name:      "call_errors_total",
			Help:      "Number of failed LLM adapter invocations, by capability.",
		}, []string{"capability"}),
		ValidationOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "validator",
			Name:      "outcome_total",
			Help:      "Workspace validation outcomes, by phase and result.",
		}, []string{"phase", "result"}),
	}

	prometheus.MustRegister(
		c.SandboxesCreated,
		c.SandboxesDestroyed,
		c.CandidatesSeen,
		c.CandidatesAccepted,
		c.CandidatesRejected,
		c.StageDuration,
		c.LLMCallTotal,
		c.LLMCallErrors,
		c.ValidationOutcome,
	)
	return c
}

// StageTimer starts a wall-clock timer for stage and returns a func to be
// deferred at the call site, matching the teacher's Emit-on-defer idiom
// instead of a manual start/stop pair at every call site.
func (c *Collection) StageTimer(stage string) func() {
	start := time.Now()
	return func() {
		c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

var llmCallDurationHistogram otelmetric.Float64Histogram

// InitOTel creates the OTel instruments mirrored from the Prometheus
// collection above, for deployments that scrape via OTLP instead of the
// Prometheus exposition format.
func InitOTel() {
	meter := otel.Meter("taskforge")
	h, err := meter.Float64Histogram(
		"taskforge.llm.call_duration",
		otelmetric.WithDescription("Duration of an LLM adapter invocation in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err == nil {
		llmCallDurationHistogram = h
	}
}

// RecordLLMCallDuration records an OTel observation alongside the
// Prometheus counters incremented by callers directly.
func RecordLLMCallDuration(ctx context.Context, capability string, d time.Duration) {
	if llmCallDurationHistogram == nil {
		return
	}
	llmCallDurationHistogram.Record(ctx, d.Seconds(), otelmetric.WithAttributes())
	_ = capability
}
