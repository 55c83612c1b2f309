package supervisor

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonwraymond/toolrelay/pending"
)

// Options tunes a Supervisor. Zero durations and counts take the defaults
// from DefaultOptions; Retries is used as given.
type Options struct {
	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential
	// reconnect delay: min(base * 2^attempt, max).
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// MaxReconnectAttempts caps automatic reconnects after a failure.
	MaxReconnectAttempts int

	// BreakerThreshold consecutive failures open the circuit for
	// BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// CallTimeout bounds each transport call.
	CallTimeout time.Duration

	// ConnectTimeout bounds each connect attempt, handshake included.
	// Defaults to CallTimeout.
	ConnectTimeout time.Duration

	// Retries is the number of additional attempts after a connection
	// loss. RetryDelay grows linearly: attempt * RetryDelay.
	Retries    int
	RetryDelay time.Duration

	// CriticalPatterns extends DefaultCriticalPatterns.
	CriticalPatterns []string

	// Pending tracks in-flight calls. Nil creates a private table.
	Pending *pending.Table

	Logger *slog.Logger
}

// DefaultOptions returns the reference tunables.
func DefaultOptions() Options {
	return Options{
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		MaxReconnectAttempts: 3,
		BreakerThreshold:     3,
		BreakerCooldown:      5 * time.Minute,
		CallTimeout:          15 * time.Second,
		Retries:              2,
		RetryDelay:           time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = d.BreakerThreshold
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = d.BreakerCooldown
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = o.CallTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.Pending == nil {
		o.Pending = pending.NewTable()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// newReconnectBackOff yields base, 2*base, 4*base ... capped at max, with no
// jitter and no overall deadline. The attempt cap is enforced by the
// Supervisor.
func newReconnectBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
