// Package ratelimit implements a per-provider sliding-window request limiter.
package ratelimit

import (
	"sync"
	"time"
)

const window = time.Minute

// Status is a read-only snapshot of one provider's window.
type Status struct {
	Used     int           `json:"used"`
	Limit    int           `json:"limit"`
	ResetsIn time.Duration `json:"resets_in"`
}

type providerWindow struct {
	limit      int
	timestamps []time.Time
}

// Limiter tracks request timestamps per provider within the trailing
// 60 seconds. Admission is all-or-nothing: a rejected request must be
// treated as a hard failure by the caller, there is no queueing.
//
// The limiter is shared across all concurrent requests, so every
// read-modify-write of a provider's window holds the mutex.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*providerWindow
	now     func() time.Time // swappable for tests
}

// New creates a limiter with the given per-minute limit per provider.
func New(limits map[string]int) *Limiter {
	windows := make(map[string]*providerWindow, len(limits))
	for provider, limit := range limits {
		windows[provider] = &providerWindow{limit: limit}
	}
	return &Limiter{
		windows: windows,
		now:     time.Now,
	}
}

// TryAcquire admits a request for the provider if the trailing-window
// count is below the configured limit, recording the admission. It
// returns false without further mutation when the window is full.
// Unknown providers are always admitted.
func (l *Limiter) TryAcquire(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[provider]
	if !ok {
		return true
	}

	now := l.now()
	w.prune(now)

	if len(w.timestamps) >= w.limit {
		return false
	}

	w.timestamps = append(w.timestamps, now)
	return true
}

// Limit returns the configured per-minute limit for a provider.
func (l *Limiter) Limit(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[provider]; ok {
		return w.limit
	}
	return 0
}

// Snapshot returns the current window state for all providers.
func (l *Limiter) Snapshot() map[string]Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]Status, len(l.windows))
	for provider, w := range l.windows {
		w.prune(now)

		var resetsIn time.Duration
		if len(w.timestamps) > 0 {
			resetsIn = w.timestamps[0].Add(window).Sub(now)
		}

		out[provider] = Status{
			Used:     len(w.timestamps),
			Limit:    w.limit,
			ResetsIn: resetsIn,
		}
	}
	return out
}

// prune drops timestamps older than the trailing window. Caller holds
// the limiter mutex.
func (w *providerWindow) prune(now time.Time) {
	cutoff := now.Add(-window)
	keep := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.timestamps = keep
}
