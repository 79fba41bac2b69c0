// Package providers tracks per-provider availability and implements the
// circuit breaker policy used to stop calling failing upstreams.
package providers

import (
	"sync"
	"time"
)

// CircuitState is the breaker state for one provider.
type CircuitState string

const (
	// StateClosed - provider is healthy, calls flow normally.
	StateClosed CircuitState = "closed"
	// StateOpen - too many consecutive failures, calls are rejected
	// until the cooldown elapses.
	StateOpen CircuitState = "open"
	// StateHalfOpen - cooldown elapsed, a single probe call is allowed
	// through. Success closes the circuit, failure re-opens it.
	StateHalfOpen CircuitState = "half-open"
)

// Status is a read-only snapshot of one provider's health.
type Status struct {
	Available   bool         `json:"available"`
	State       CircuitState `json:"state"`
	ErrorCount  int          `json:"error_count"`
	LastChecked time.Time    `json:"last_checked"`
	LastError   string       `json:"last_error,omitempty"`
}

type providerHealth struct {
	state       CircuitState
	errorCount  int
	lastChecked time.Time
	lastError   string
	openedAt    time.Time
	probing     bool // a half-open probe is in flight
}

// HealthTracker owns the health state for all providers. It is
// constructed once and injected wherever provider health is consulted;
// there is no package-level state.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
	threshold int
	cooldown  time.Duration
	now       func() time.Time // swappable for tests
}

// NewHealthTracker creates a tracker for the named providers.
// threshold is the consecutive-failure count that opens the circuit;
// cooldown is how long the circuit stays open before a probe is allowed.
func NewHealthTracker(names []string, threshold int, cooldown time.Duration) *HealthTracker {
	providers := make(map[string]*providerHealth, len(names))
	for _, name := range names {
		providers[name] = &providerHealth{state: StateClosed}
	}
	return &HealthTracker{
		providers: providers,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call to the provider may proceed.
// Closed circuits always allow. Open circuits reject until the cooldown
// elapses, then transition to half-open and admit exactly one probe at
// a time. Unknown providers are always allowed.
func (t *HealthTracker) Allow(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return true
	}

	switch h.state {
	case StateClosed:
		return true
	case StateOpen:
		if t.now().Sub(h.openedAt) < t.cooldown {
			return false
		}
		h.state = StateHalfOpen
		h.probing = true
		return true
	case StateHalfOpen:
		if h.probing {
			return false
		}
		h.probing = true
		return true
	}
	return true
}

// RetryAfter returns how long until an open circuit admits a probe.
// Zero for providers that are not open.
func (t *HealthTracker) RetryAfter(provider string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok || h.state != StateOpen {
		return 0
	}
	remaining := t.cooldown - t.now().Sub(h.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSuccess resets the provider's error count and closes the circuit.
// Any single success recovers an unavailable provider.
func (t *HealthTracker) RecordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return
	}
	h.state = StateClosed
	h.errorCount = 0
	h.lastError = ""
	h.lastChecked = t.now()
	h.probing = false
}

// RecordFailure increments the provider's error count and opens the
// circuit once the threshold is reached. A failed half-open probe
// re-opens immediately.
func (t *HealthTracker) RecordFailure(provider string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return
	}

	h.errorCount++
	h.lastChecked = t.now()
	if err != nil {
		h.lastError = err.Error()
	}

	if h.state == StateHalfOpen || h.errorCount >= t.threshold {
		h.state = StateOpen
		h.openedAt = t.now()
	}
	h.probing = false
}

// Snapshot returns the current health of all providers.
func (t *HealthTracker) Snapshot() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Status, len(t.providers))
	for name, h := range t.providers {
		out[name] = Status{
			Available:   h.state == StateClosed,
			State:       h.state,
			ErrorCount:  h.errorCount,
			LastChecked: h.lastChecked,
			LastError:   h.lastError,
		}
	}
	return out
}
