package workers

import "time"

// RetryPolicy decides whether a failed event gets another sweep and when.
// It is the single owner of retry semantics; storage only carries the
// resulting retry_count and next_retry_at bookkeeping.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// LinearBackoff spaces attempts evenly: base, 2*base, 3*base, ...
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * base
	}
}

// Exhausted reports whether the attempt that just failed was the last one
// allowed. attempts counts completed (failed) attempts including the current.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// NextRetryAt returns the unix timestamp of the next permitted attempt, or
// nil when the budget is spent.
func (p RetryPolicy) NextRetryAt(attempts int, now time.Time) *int64 {
	if p.Exhausted(attempts) {
		return nil
	}
	at := now.Add(p.Backoff(attempts)).Unix()
	return &at
}
