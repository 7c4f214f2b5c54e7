package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of auto restarts.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	processStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "start_duration_seconds",
			Help:      "Observed start duration wait window when StartDuration > 0.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	runningInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "running_instances",
			Help:      "Current running instances per base process name.",
		}, []string{"base"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"name", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "monitd",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of processes (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)

	restartAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "supervisor",
			Name:      "restart_attempts_total",
			Help:      "Restart attempts made by the supervision loop.",
		}, []string{"id"},
	)
	backoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "monitd",
			Subsystem: "supervisor",
			Name:      "backoff_seconds",
			Help:      "Currently scheduled restart backoff for an entry.",
		}, []string{"id"},
	)
	heartbeatFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "heartbeat",
			Name:      "failures_total",
			Help:      "Heartbeat failure detections by kind.",
		}, []string{"operation", "participant", "kind"},
	)
	gateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "gate",
			Name:      "denials_total",
			Help:      "Remote access gate denials by reason.",
		}, []string{"reason"},
	)
	livenessProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitd",
			Subsystem: "prober",
			Name:      "probes_total",
			Help:      "Liveness probes issued, by outcome.",
		}, []string{"id", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processStops, processStartDuration, runningInstances, stateTransitions, currentStates,
		restartAttempts, backoffSeconds, heartbeatFailures, gateDenials, livenessProbes,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

var processMetricsCollector *ProcessMetricsCollector

// RegisterWithProcessMetrics registers the package metrics and a
// ProcessMetricsCollector built from config with r.
func RegisterWithProcessMetrics(r prometheus.Registerer, config ProcessMetricsConfig) error {
	if err := Register(r); err != nil {
		return err
	}
	processMetricsCollector = NewProcessMetricsCollector(config)
	return processMetricsCollector.RegisterMetrics(r)
}

// GetProcessMetricsCollector returns the collector built by the last
// RegisterWithProcessMetrics call, or nil.
func GetProcessMetricsCollector() *ProcessMetricsCollector { return processMetricsCollector }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}
func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		processStartDuration.WithLabelValues(name).Observe(seconds)
	}
}
func SetRunningInstances(base string, n int) {
	if regOK.Load() {
		runningInstances.WithLabelValues(base).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func IncRestartAttempt(id string) {
	if regOK.Load() {
		restartAttempts.WithLabelValues(id).Inc()
	}
}

func SetBackoff(id string, d float64) {
	if regOK.Load() {
		backoffSeconds.WithLabelValues(id).Set(d)
	}
}

func IncHeartbeatFailure(operation, participant, kind string) {
	if regOK.Load() {
		heartbeatFailures.WithLabelValues(operation, participant, kind).Inc()
	}
}

func IncGateDenial(reason string) {
	if regOK.Load() {
		gateDenials.WithLabelValues(reason).Inc()
	}
}

func IncLivenessProbe(id, outcome string) {
	if regOK.Load() {
		livenessProbes.WithLabelValues(id, outcome).Inc()
	}
}
