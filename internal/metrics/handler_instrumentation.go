package metrics

import (
	"time"
)

// MeasureHandler wraps a dispatch handler invocation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureHandler(m, "payments")()
func MeasureHandler(m *Metrics, topic string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveHandlerDuration(topic, time.Since(start))
	}
}

// RecordHandlerDuration records a handler duration directly (when timing is already captured).
func RecordHandlerDuration(m *Metrics, topic string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveHandlerDuration(topic, duration)
}
