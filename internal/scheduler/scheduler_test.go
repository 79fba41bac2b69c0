package scheduler

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs int32
	err  error
}

func (j *countingJob) Run() error {
	atomic.AddInt32(&j.runs, 1)
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &countingJob{})
	assert.Error(t, err)
}

func TestAddJobAcceptsValidSchedules(t *testing.T) {
	s := New(zerolog.Nop())
	for _, schedule := range []string{"@daily", "@hourly", "*/5 * * * *"} {
		assert.NoError(t, s.AddJob(schedule, &countingJob{}), schedule)
	}
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))
}

func TestRunNowPropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: fmt.Errorf("boom")}

	assert.Error(t, s.RunNow(job))
}

func TestStartStop(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@daily", &countingJob{}))
	s.Start()
	s.Stop()
}
