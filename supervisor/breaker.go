package supervisor

import "time"

// Breaker counts consecutive failures and opens for a cooldown once the
// threshold is reached. It is not safe for concurrent use; the owning
// Supervisor serializes access.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Open reports whether calls must fail fast at now.
func (b *Breaker) Open(now time.Time) bool {
	return now.Before(b.openUntil)
}

// RecordFailure counts a failure and reports whether it tripped the breaker.
func (b *Breaker) RecordFailure(now time.Time) bool {
	b.failures++
	if b.failures >= b.threshold && !b.Open(now) {
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}

// RecordSuccess clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.failures = 0
}

// Reset clears the failure count and closes the breaker.
func (b *Breaker) Reset() {
	b.failures = 0
	b.openUntil = time.Time{}
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int { return b.failures }

// OpenUntil returns when the breaker closes, or the zero time.
func (b *Breaker) OpenUntil() time.Time { return b.openUntil }
