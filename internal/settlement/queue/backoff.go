package queue

import "time"

// Backoff schedule constants for the settlement pipeline.
const (
	// Confirmation monitoring: base 2 minutes, x1.5 per attempt, capped at
	// 10 minutes, up to 20 attempts.
	MonitorBaseDelay   = 2 * time.Minute
	MonitorMaxDelay    = 10 * time.Minute
	MonitorMultiplier  = 1.5
	MaxMonitorAttempts = 20

	// MonitorJobAttempts is the queue-level retry budget for one poll.
	// Distinct from MaxMonitorAttempts, which caps the number of polls:
	// this covers transient handler failures (store writes, reschedule
	// enqueues) within a single poll. Polls are idempotent, so re-running
	// one is safe, and without this budget a failed state write would
	// orphan the withdrawal in Sent with no job left to re-poll it.
	MonitorJobAttempts = 3

	// Withdrawal processing: up to 5 queue-level attempts.
	MaxProcessAttempts = 5
)

// NextMonitorDelay computes the reschedule delay for the given monitor
// attempt number (1-based): min(120s * 1.5^(attempt-1), 600s). Pure so the
// retry math is unit-testable without a running queue.
func NextMonitorDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := MonitorBaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * MonitorMultiplier)
		if delay >= MonitorMaxDelay {
			return MonitorMaxDelay
		}
	}
	if delay > MonitorMaxDelay {
		return MonitorMaxDelay
	}
	return delay
}

// NextRetryDelay computes the queue-level retry delay for failed job
// attempts: 30s * 2^(attempt-1), capped at 5 minutes.
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}
