// Package metrics exports the progress of an onboarding run to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/runtime-init/onboard"
)

// Recorder observes a run and keeps its metrics in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	phaseDuration *prometheus.HistogramVec
	phaseTotal    *prometheus.CounterVec
	phaseRunning  *prometheus.GaugeVec
	runStatus     *prometheus.GaugeVec
	runDuration   prometheus.Gauge
}

// NewRecorder creates a recorder whose metrics live under namespace.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "duration_seconds",
				Help:      "Duration of onboarding phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
			},
			[]string{"phase"},
		),
		phaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "total",
				Help:      "Completed onboarding phases by result",
			},
			[]string{"phase", "result"},
		),
		phaseRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "running",
				Help:      "Whether a phase is currently running (1) or not (0)",
			},
			[]string{"phase"},
		),
		runStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "status",
				Help:      "Current run status, 1 for the active status label",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Duration of the finished run in seconds",
			},
		),
	}

	r.registry.MustRegister(
		r.phaseDuration,
		r.phaseTotal,
		r.phaseRunning,
		r.runStatus,
		r.runDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	r.setStatus(onboard.StatusRunning)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry metrics are recorded in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) PhaseStarted(phase string) {
	r.phaseRunning.WithLabelValues(phase).Set(1)
}

func (r *Recorder) PhaseCompleted(phase string, duration time.Duration, err error) {
	result := onboard.StatusSuccess
	if err != nil {
		result = onboard.StatusFailure
	}
	r.phaseRunning.WithLabelValues(phase).Set(0)
	r.phaseTotal.WithLabelValues(phase, result).Inc()
	r.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func (r *Recorder) RunCompleted(summary onboard.Summary) {
	r.setStatus(summary.Status)
	r.runDuration.Set(summary.Duration.Seconds())
}

func (r *Recorder) setStatus(status string) {
	for _, s := range []string{onboard.StatusRunning, onboard.StatusSuccess, onboard.StatusFailure} {
		value := 0.0
		if s == status {
			value = 1
		}
		r.runStatus.WithLabelValues(s).Set(value)
	}
}
