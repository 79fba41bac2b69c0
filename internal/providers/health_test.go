package providers

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(threshold int, cooldown time.Duration) (*HealthTracker, *time.Time) {
	now := time.Now()
	t := NewHealthTracker([]string{"alphavantage", "yahoo"}, threshold, cooldown)
	t.now = func() time.Time { return now }
	return t, &now
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	tracker, _ := newTracker(5, time.Minute)

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("alphavantage", fmt.Errorf("boom"))
		status := tracker.Snapshot()["alphavantage"]
		assert.True(t, status.Available, "still available after %d failures", i+1)
		assert.Equal(t, i+1, status.ErrorCount)
	}

	// 5th failure opens the circuit
	tracker.RecordFailure("alphavantage", fmt.Errorf("boom"))
	status := tracker.Snapshot()["alphavantage"]
	assert.False(t, status.Available)
	assert.Equal(t, StateOpen, status.State)
	assert.Equal(t, 5, status.ErrorCount)
	assert.False(t, tracker.Allow("alphavantage"))
}

func TestSuccessResetsHealth(t *testing.T) {
	tracker, _ := newTracker(3, time.Minute)

	for i := 0; i < 3; i++ {
		tracker.RecordFailure("yahoo", fmt.Errorf("boom"))
	}
	require.False(t, tracker.Snapshot()["yahoo"].Available)

	tracker.RecordSuccess("yahoo")

	status := tracker.Snapshot()["yahoo"]
	assert.True(t, status.Available)
	assert.Equal(t, StateClosed, status.State)
	assert.Zero(t, status.ErrorCount)
	assert.Empty(t, status.LastError)
	assert.True(t, tracker.Allow("yahoo"))
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	tracker, now := newTracker(1, time.Minute)

	tracker.RecordFailure("alphavantage", fmt.Errorf("boom"))
	require.False(t, tracker.Allow("alphavantage"))

	// Before the cooldown elapses the circuit stays open
	*now = now.Add(30 * time.Second)
	assert.False(t, tracker.Allow("alphavantage"))
	assert.Equal(t, 30*time.Second, tracker.RetryAfter("alphavantage"))

	// After the cooldown a single probe is admitted
	*now = now.Add(31 * time.Second)
	assert.True(t, tracker.Allow("alphavantage"))
	assert.Equal(t, StateHalfOpen, tracker.Snapshot()["alphavantage"].State)

	// A second caller during the probe is rejected
	assert.False(t, tracker.Allow("alphavantage"))
}

func TestHalfOpenProbeSuccessClosesCircuit(t *testing.T) {
	tracker, now := newTracker(1, time.Minute)

	tracker.RecordFailure("alphavantage", fmt.Errorf("boom"))
	*now = now.Add(2 * time.Minute)
	require.True(t, tracker.Allow("alphavantage"))

	tracker.RecordSuccess("alphavantage")

	status := tracker.Snapshot()["alphavantage"]
	assert.Equal(t, StateClosed, status.State)
	assert.True(t, tracker.Allow("alphavantage"))
}

func TestHalfOpenProbeFailureReopensCircuit(t *testing.T) {
	tracker, now := newTracker(3, time.Minute)

	for i := 0; i < 3; i++ {
		tracker.RecordFailure("alphavantage", fmt.Errorf("boom"))
	}
	*now = now.Add(2 * time.Minute)
	require.True(t, tracker.Allow("alphavantage"))

	// The single probe fails: circuit re-opens immediately, without
	// needing threshold failures again.
	tracker.RecordFailure("alphavantage", fmt.Errorf("still down"))

	assert.Equal(t, StateOpen, tracker.Snapshot()["alphavantage"].State)
	assert.False(t, tracker.Allow("alphavantage"))
}

func TestUnknownProviderAlwaysAllowed(t *testing.T) {
	tracker, _ := newTracker(1, time.Minute)

	tracker.RecordFailure("stranger", fmt.Errorf("boom"))
	assert.True(t, tracker.Allow("stranger"))
}

func TestSnapshotRecordsLastError(t *testing.T) {
	tracker, _ := newTracker(5, time.Minute)

	tracker.RecordFailure("yahoo", fmt.Errorf("status 502"))

	status := tracker.Snapshot()["yahoo"]
	assert.Equal(t, "status 502", status.LastError)
	assert.False(t, status.LastChecked.IsZero())
}
