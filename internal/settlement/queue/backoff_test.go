package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextMonitorDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Minute},
		{2, 3 * time.Minute},
		{3, 270 * time.Second},
		{4, 405 * time.Second},
		{5, 10 * time.Minute},
		{10, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextMonitorDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestNextMonitorDelayNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= MaxMonitorAttempts; attempt++ {
		delay := NextMonitorDelay(attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, MonitorMaxDelay, "attempt %d", attempt)
		prev = delay
	}
}

func TestNextMonitorDelayClampsBadInput(t *testing.T) {
	assert.Equal(t, MonitorBaseDelay, NextMonitorDelay(0))
	assert.Equal(t, MonitorBaseDelay, NextMonitorDelay(-3))
}

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{9, 5 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextRetryDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestJobIsFinalAttempt(t *testing.T) {
	job := &Job{Attempt: 1, MaxAttempts: 5}
	assert.False(t, job.IsFinalAttempt())

	job.Attempt = 5
	assert.True(t, job.IsFinalAttempt())

	single := &Job{Attempt: 1, MaxAttempts: 1}
	assert.True(t, single.IsFinalAttempt())
}
