// Package retry runs transient operations under a configurable backoff.
package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/packsync/internal/config"
)

// Policy is a value type; copies never share state.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first attempt
}

// Hooks customise one Do call. Both fields are optional.
type Hooks struct {
	// Permanent stops the loop early for errors a retry cannot fix.
	Permanent func(error) bool
	// OnRetry runs before each retry with the 1-based retry number.
	OnRetry func(retry int, lastErr error)
}

// DefaultPolicy makes a single attempt. Retries are opt-in.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second}
}

// NewPolicy overlays the non-zero arguments on DefaultPolicy and clamps
// Initial to Max.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDelay time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if m := config.NormalizeRetryBackoff(string(mode)); m != "" {
		p.Mode = m
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if maxRetries > 0 {
		p.MaxRetries = maxRetries
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

func FromConfig(rc config.RetryConfig) Policy {
	initial, maxDelay := rc.Delays()
	return NewPolicy(rc.Backoff, initial, maxDelay, rc.MaxRetries)
}

// Delay is the wait before retry n (1-based), capped at Max.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		if n > 32 {
			return p.Max
		}
		d = p.Initial << (n - 1)
	default:
		d = p.Initial * time.Duration(n)
	}
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, hooks.Permanent rejects the error, the
// retries run out or ctx ends. It returns the last error fn produced.
func (p Policy) Do(ctx context.Context, fn func() error, hooks Hooks) error {
	err := fn()
	for n := 1; err != nil && n <= p.MaxRetries; n++ {
		if hooks.Permanent != nil && hooks.Permanent(err) {
			return err
		}
		if hooks.OnRetry != nil {
			hooks.OnRetry(n, err)
		}
		if !sleep(ctx, p.Delay(n)) {
			return err
		}
		err = fn()
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
