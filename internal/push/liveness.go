package push

import "time"

// WakeDetector notices long gaps between liveness ticks, which happen
// when the host process was suspended.
type WakeDetector struct {
	Interval time.Duration
	// Factor is how many intervals a gap must span to count as a
	// suspension.
	Factor float64

	last time.Time
}

// NewWakeDetector returns a detector for ticks every interval.
func NewWakeDetector(interval time.Duration) *WakeDetector {
	return &WakeDetector{Interval: interval, Factor: 3}
}

// Observe records a tick at now and reports whether the gap since the
// previous tick far exceeds the interval. The first tick never does.
func (w *WakeDetector) Observe(now time.Time) bool {
	prev := w.last
	w.last = now
	if prev.IsZero() {
		return false
	}
	gap := now.Sub(prev)
	return gap > time.Duration(float64(w.Interval)*w.Factor)
}
