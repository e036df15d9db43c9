// Package metrics exposes a pipeline's runtime counters as Prometheus
// collectors, grounded on the teacher's infrastructure/monitoring
// package and repurposed from HTTP request metrics to driver-loop
// metrics. Per SPEC_FULL.md §10.7.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector one pipeline process reports.
type Metrics struct {
	Registry *prometheus.Registry

	IterationsTotal    prometheus.Counter
	IterationsFailed   prometheus.Counter
	IterationDuration  prometheus.Histogram
	ScriptInvocations  *prometheus.CounterVec
	ScriptDuration     *prometheus.HistogramVec
	FanInQueueDepth    *prometheus.GaugeVec
	DiscoveryDuration  *prometheus.HistogramVec
	DriverState        prometheus.Gauge
	OutputSendFailures *prometheus.CounterVec

	startTime time.Time
	Uptime    prometheus.Gauge
}

// New constructs and registers a fresh metrics set on its own registry,
// so multiple pipelines (or tests) in one process never collide on a
// shared default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		IterationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dporch_iterations_total",
			Help: "Total number of driver iterations completed successfully",
		}),
		IterationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dporch_iterations_failed_total",
			Help: "Total number of driver iterations that failed",
		}),
		IterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dporch_iteration_duration_seconds",
			Help:    "Duration of one full input->output iteration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ScriptInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dporch_script_invocations_total",
			Help: "Total number of script step invocations",
		}, []string{"module_key", "status"}),
		ScriptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dporch_script_duration_seconds",
			Help:    "Duration of a single script step invocation",
			Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"module_key"}),
		FanInQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dporch_fanin_queue_depth",
			Help: "Number of buffered messages per input source",
		}, []string{"source"}),
		DiscoveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dporch_discovery_duration_seconds",
			Help:    "Time spent discovering peers, by role",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"role"}),
		DriverState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dporch_driver_state",
			Help: "Current driver lifecycle state, as an ordinal",
		}),
		OutputSendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dporch_output_send_failures_total",
			Help: "Total number of failed sends to an output target",
		}, []string{"target"}),
		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dporch_uptime_seconds",
			Help: "Pipeline process uptime in seconds",
		}),
	}

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordIteration records one completed iteration's outcome and duration.
func (m *Metrics) RecordIteration(d time.Duration, failed bool) {
	m.IterationDuration.Observe(d.Seconds())
	if failed {
		m.IterationsFailed.Inc()
		return
	}
	m.IterationsTotal.Inc()
}

// RecordScriptInvocation records one script step's invocation outcome.
func (m *Metrics) RecordScriptInvocation(moduleKey string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ScriptInvocations.WithLabelValues(moduleKey, status).Inc()
	m.ScriptDuration.WithLabelValues(moduleKey).Observe(d.Seconds())
}

// SetFanInQueueDepth reports the current buffered depth for one source.
func (m *Metrics) SetFanInQueueDepth(source string, depth int) {
	m.FanInQueueDepth.WithLabelValues(source).Set(float64(depth))
}

// RecordDiscovery records a completed beacon or finder discovery pass.
func (m *Metrics) RecordDiscovery(role string, d time.Duration) {
	m.DiscoveryDuration.WithLabelValues(role).Observe(d.Seconds())
}

// SetDriverState reports the driver's current lifecycle state ordinal.
func (m *Metrics) SetDriverState(ordinal int) {
	m.DriverState.Set(float64(ordinal))
}

// RecordOutputSendFailure records one failed send to a named target.
func (m *Metrics) RecordOutputSendFailure(target string) {
	m.OutputSendFailures.WithLabelValues(target).Inc()
}
