package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the engine updates as it drives
// workflows. It only registers collectors; exposing them over HTTP (the
// promhttp.Handler wiring) is left to the bootstrap layer.
//
// Collectors:
//   - workflow_step_latency_ms (histogram, labels: workflow_type, step, status)
//   - workflow_retries_total (counter, labels: workflow_type, step, reason)
//   - workflow_reconciliations_total (counter, labels: workflow_type, action)
//   - workflow_stalled_total (counter, labels: workflow_type)
//   - workflow_completed_total (counter, labels: workflow_type)
//   - workflow_failed_total (counter, labels: workflow_type)
//   - workflow_signer_lock_wait_ms (histogram, labels: signer)
//   - workflow_active (gauge, labels: workflow_type, state)
type Metrics struct {
	stepLatency    *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	stalled        *prometheus.CounterVec
	completed      *prometheus.CounterVec
	failed         *prometheus.CounterVec
	signerLockWait *prometheus.HistogramVec
	active         *prometheus.GaugeVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers the workflow engine's metrics with the
// given registry. Pass prometheus.DefaultRegisterer for the global registry,
// or a fresh prometheus.NewRegistry() for isolation in tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Name:      "step_latency_ms",
		Help:      "Step execution duration in milliseconds.",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
	}, []string{"workflow_type", "step", "status"})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "retries_total",
		Help:      "Cumulative count of step retry attempts.",
	}, []string{"workflow_type", "step", "reason"})

	m.reconciliations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "reconciliations_total",
		Help:      "Cumulative count of reconciliation passes, by resulting action.",
	}, []string{"workflow_type", "action"})

	m.stalled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "stalled_total",
		Help:      "Cumulative count of workflows that transitioned to STALLED.",
	}, []string{"workflow_type"})

	m.completed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "completed_total",
		Help:      "Cumulative count of workflows that reached COMPLETED.",
	}, []string{"workflow_type"})

	m.failed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "failed_total",
		Help:      "Cumulative count of workflows that reached FAILED.",
	}, []string{"workflow_type"})

	m.signerLockWait = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Name:      "signer_lock_wait_ms",
		Help:      "Time spent waiting to acquire a per-signer transaction queue lock.",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	}, []string{"signer"})

	m.active = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "workflow",
		Name:      "active",
		Help:      "Current number of workflows by type and meta-state.",
	}, []string{"workflow_type", "state"})

	return m
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// RecordStepLatency records a step's execution duration.
func (m *Metrics) RecordStepLatency(workflowType, step, status string, d time.Duration) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.stepLatency.WithLabelValues(workflowType, step, status).Observe(float64(d.Milliseconds()))
}

// IncrementRetries records a step retry.
func (m *Metrics) IncrementRetries(workflowType, step, reason string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(workflowType, step, reason).Inc()
}

// IncrementReconciliations records a reconciliation pass and its action.
func (m *Metrics) IncrementReconciliations(workflowType, action string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.reconciliations.WithLabelValues(workflowType, action).Inc()
}

// IncrementStalled records a workflow entering STALLED.
func (m *Metrics) IncrementStalled(workflowType string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.stalled.WithLabelValues(workflowType).Inc()
}

// IncrementCompleted records a workflow reaching COMPLETED.
func (m *Metrics) IncrementCompleted(workflowType string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.completed.WithLabelValues(workflowType).Inc()
}

// IncrementFailed records a workflow reaching FAILED.
func (m *Metrics) IncrementFailed(workflowType string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.failed.WithLabelValues(workflowType).Inc()
}

// RecordSignerLockWait records time spent waiting on a signer's queue lock.
func (m *Metrics) RecordSignerLockWait(signer string, d time.Duration) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.signerLockWait.WithLabelValues(signer).Observe(float64(d.Milliseconds()))
}

// SetActive sets the current count of workflows in a given type/state pair.
func (m *Metrics) SetActive(workflowType, state string, count int) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.active.WithLabelValues(workflowType, state).Set(float64(count))
}

// Disable stops metric recording (useful for tests sharing a registry).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
