package metrics

import (
	"time"

	"screenguard/internal/router"
)

// Namespace prefixes every screenguard metric name.
const Namespace = "screenguard"

// ScreenguardMetrics holds the overlay metrics.
type ScreenguardMetrics struct {
	registry *Registry

	// Counters
	EmergencyTapsTotal *Counter
	ActivationsTotal   *Counter
	JournalErrorsTotal *Counter
	IPCRequestsTotal   *Counter

	// Gauges
	OverlayActive *Gauge
	UptimeSeconds *Gauge

	// Histograms
	GestureDuration *Histogram

	start time.Time
}

// NewScreenguardMetrics registers the overlay metrics with registry. A nil
// registry gets a fresh one.
func NewScreenguardMetrics(registry *Registry) *ScreenguardMetrics {
	if registry == nil {
		registry = NewRegistry(Namespace)
	}

	m := &ScreenguardMetrics{
		registry: registry,
		start:    time.Now(),

		EmergencyTapsTotal: registry.Counter(
			"emergency_taps_total",
			"Taps counted inside the emergency region",
			nil,
		),
		ActivationsTotal: registry.Counter(
			"activations_total",
			"Times the overlay was shown",
			nil,
		),
		JournalErrorsTotal: registry.Counter(
			"journal_errors_total",
			"Attempts that could not be written to the journal",
			nil,
		),
		IPCRequestsTotal: registry.Counter(
			"ipc_requests_total",
			"Control socket requests handled",
			nil,
		),

		OverlayActive: registry.Gauge(
			"overlay_active",
			"1 while the overlay is shown",
			nil,
		),
		UptimeSeconds: registry.Gauge(
			"uptime_seconds",
			"Seconds since the daemon started",
			nil,
		),

		GestureDuration: registry.Histogram(
			"gesture_duration_seconds",
			"Duration of finished gesture touches",
			nil,
			DurationBuckets,
		),
	}

	// Pre-register labelled series so they are exported at zero.
	for _, o := range []router.Outcome{router.OutcomeCompleted, router.OutcomeRejected, router.OutcomeCancelled} {
		m.gestures(o)
	}
	for _, s := range []router.Source{router.SourceGesture, router.SourceEmergency} {
		m.unlocks(s)
	}
	return m
}

// Registry returns the underlying registry.
func (m *ScreenguardMetrics) Registry() *Registry {
	return m.registry
}

func (m *ScreenguardMetrics) gestures(o router.Outcome) *Counter {
	return m.registry.Counter("gestures_total", "Finished gesture touches by outcome",
		Labels{"outcome": o.String()})
}

func (m *ScreenguardMetrics) unlocks(s router.Source) *Counter {
	return m.registry.Counter("unlocks_total", "Unlock signals by source",
		Labels{"source": s.String()})
}

// Observe records a finished attempt. It satisfies router.Observer.
func (m *ScreenguardMetrics) Observe(a router.Attempt) {
	switch a.Outcome {
	case router.OutcomeCompleted, router.OutcomeRejected, router.OutcomeCancelled:
		m.gestures(a.Outcome).Inc()
		m.GestureDuration.ObserveDuration(time.Duration(a.End-a.Start) * time.Millisecond)
	case router.OutcomeTap:
		m.EmergencyTapsTotal.Inc()
	}
}

// RecordUnlock counts an unlock signal and clears the active gauge.
func (m *ScreenguardMetrics) RecordUnlock(sig router.Signal) {
	m.unlocks(sig.Source).Inc()
	m.OverlayActive.Set(0)
}

// RecordActivation counts an overlay activation.
func (m *ScreenguardMetrics) RecordActivation() {
	m.ActivationsTotal.Inc()
	m.OverlayActive.Set(1)
}

// RecordDeactivation clears the active gauge after a stop without unlock.
func (m *ScreenguardMetrics) RecordDeactivation() {
	m.OverlayActive.Set(0)
}

// RecordJournalError counts a failed journal write.
func (m *ScreenguardMetrics) RecordJournalError() {
	m.JournalErrorsTotal.Inc()
}

// RecordIPCRequest counts a handled control request.
func (m *ScreenguardMetrics) RecordIPCRequest() {
	m.IPCRequestsTotal.Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *ScreenguardMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.start).Seconds()))
}

// Unlocks returns the unlock count for a source.
func (m *ScreenguardMetrics) Unlocks(s router.Source) uint64 {
	return m.unlocks(s).Value()
}

// Gestures returns the gesture count for an outcome.
func (m *ScreenguardMetrics) Gestures(o router.Outcome) uint64 {
	return m.gestures(o).Value()
}
