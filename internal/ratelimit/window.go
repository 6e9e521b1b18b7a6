package ratelimit

import (
	"sync"
	"time"
)

// slidingWindow tracks request timestamps for one identity. It is an
// in-process advisory view; the store-backed count in Limiter is the
// authoritative one shared across instances.
type slidingWindow struct {
	mu     sync.Mutex
	events []time.Time
	last   time.Time
}

// add records one event and drops everything older than the window.
func (w *slidingWindow) add(now time.Time, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events = append(kept, now)
	w.last = now
}

// perMinuteRate returns the window count normalized to a per-minute rate, so
// windows of any length compare against a per-minute threshold.
func (w *slidingWindow) perMinuteRate(now time.Time, window time.Duration) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	count := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			count++
		}
	}
	return float64(count) / window.Minutes()
}

func (w *slidingWindow) lastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
