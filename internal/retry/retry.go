// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrInvalidConfig is returned for configurations that would never wait or never grow.
var ErrInvalidConfig = errors.New("invalid retry config")

// Config configures backoff between attempts.
type Config struct {
	// MaxAttempts bounds the number of attempts including the first one.
	// Zero means retry until the context is done.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// Factor multiplies the wait after every failed attempt.
	Factor float64
	// Jitter is the maximum random deviation as a fraction of the wait (0-1).
	Jitter float64
}

// Forever retries until the context ends, backing off up to 5s.
func Forever() Config {
	return Config{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Factor:         2,
		Jitter:         0.2,
	}
}

func (c Config) Validate() error {
	if c.MaxAttempts < 0 || c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff || c.Factor < 1 {
		return ErrInvalidConfig
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// OnFailure is called after every failed attempt that will be retried.
type OnFailure func(attempt int, err error, wait time.Duration)

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
// fn is always called at least once, even with a done ctx. When ctx ends
// while waiting, the context error is joined with the last error of fn.
func Do(ctx context.Context, cfg Config, fn Func, onFailure OnFailure) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	backoff := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return err
		}

		wait := withJitter(backoff, cfg.Jitter)
		if onFailure != nil {
			onFailure(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}

		backoff = min(time.Duration(float64(backoff)*cfg.Factor), cfg.MaxBackoff)
	}
}

func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	return time.Duration(float64(base) * (1 + (rand.Float64()*2-1)*jitter))
}
