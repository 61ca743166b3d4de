// Package metrics exposes pipeline and upload counters in Prometheus format.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// registry plumbing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pressarchive"

// Stage outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	// OutcomeKept marks a compression run whose output was not smaller.
	OutcomeKept = "kept_original"
	// OutcomeDisabled marks a compression stage that committed its input
	// because compression is switched off.
	OutcomeDisabled = "disabled"
)

type Metrics struct {
	registry      *prometheus.Registry
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	uploads       *prometheus.CounterVec
	uploadedBytes prometheus.Counter
	chunks        prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock time of pipeline stages.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "sessions_total",
			Help:      "Upload sessions by final state.",
		}, []string{"state"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "assembled_bytes_total",
			Help:      "Bytes of assembled original PDFs.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "chunks_total",
			Help:      "Accepted upload chunks, resends included.",
		}),
	}
	reg.MustRegister(m.stageRuns, m.stageDuration, m.uploads, m.uploadedBytes, m.chunks)
	return m
}

func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// UploadSession counts a session reaching state (started, completed, aborted).
func (m *Metrics) UploadSession(state string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(state).Inc()
}

func (m *Metrics) Chunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) Assembled(size int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(size))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
