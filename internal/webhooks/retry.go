package webhooks

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"deskhooks/internal/model"
)

// State is the lifecycle position of one event delivery to one webhook.
type State string

const (
	StatePending        State = "pending"
	StateAttempting     State = "attempting"
	StateDelivered      State = "delivered"
	StateRetryScheduled State = "retry_scheduled"
	StateExhausted      State = "exhausted"
)

// Terminal reports whether no further attempt will be made.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateExhausted
}

const (
	DefaultMaxAttempts = 6
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxDelay    = 30 * time.Minute
)

// RetryPolicy bounds how often and how far apart a failed delivery is retried.
// With the defaults the waits after attempts 1..5 are 30s, 1m, 2m, 4m and 8m.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay is the wait after the given failed attempt (1-based): BaseDelay*2^(attempt-1)
// capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Decision is what the scheduler does after an attempt.
type Decision struct {
	State         State
	NextAttemptAt time.Time
}

// Decide classifies the outcome of attempt (1-based) made at now.
func (p RetryPolicy) Decide(o model.Outcome, attempt int, now time.Time) Decision {
	p = p.normalized()
	switch {
	case o.Success:
		return Decision{State: StateDelivered}
	case attempt >= p.MaxAttempts:
		return Decision{State: StateExhausted}
	default:
		return Decision{State: StateRetryScheduled, NextAttemptAt: now.Add(p.Delay(attempt))}
	}
}
