package executor

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// RetryPolicy defines the backoff between attempts of a failed task. The
// number of attempts is governed by each task's own retry budget.
type RetryPolicy struct {
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	BackoffFactor  float64       `json:"backoff_factor"`
}

// NewDefaultRetryPolicy creates a retry policy with sensible defaults
func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     2 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// NewImmediateRetryPolicy retries without waiting
func NewImmediateRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// ShouldRetry reports whether a task that has made attempts attempts may run
// again under a budget of retries extra attempts
func (p *RetryPolicy) ShouldRetry(attempts, retries int) bool {
	return attempts <= retries
}

// Backoff tracks the growing pause for one task across its attempts
type Backoff struct {
	immediate bool
	gax       *gax.Backoff
}

// NewBackoff starts a fresh backoff sequence
func (p *RetryPolicy) NewBackoff() *Backoff {
	if p == nil || p.InitialBackoff <= 0 {
		return &Backoff{immediate: true}
	}
	return &Backoff{gax: &gax.Backoff{
		Initial:    p.InitialBackoff,
		Max:        p.MaxBackoff,
		Multiplier: p.BackoffFactor,
	}}
}

// Pause returns the next pause. gax applies full jitter, so successive calls
// are random but bounded by the growing ceiling.
func (b *Backoff) Pause() time.Duration {
	if b.immediate {
		return 0
	}
	return b.gax.Pause()
}

// Wait sleeps for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return gax.Sleep(ctx, d)
}
