package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Establisher errors.
var (
	// ErrReconnectDisabled is returned when MaxAttempts is zero.
	ErrReconnectDisabled = errors.New("reconnection disabled")

	// ErrAttemptsExhausted is returned after MaxAttempts failed attempts.
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

	// ErrDeadlineExceeded is returned when the deadline passes before an
	// attempt succeeds.
	ErrDeadlineExceeded = errors.New("reconnect deadline exceeded")
)

// ConnectFunc is called to establish a connection.
// It should return nil on success or an error on failure.
type ConnectFunc func(ctx context.Context) error

// EstablisherConfig configures an Establisher.
type EstablisherConfig struct {
	// Backoff between attempts. The first attempt is made immediately.
	Backoff BackoffConfig

	// MaxAttempts bounds the number of attempts. Negative means unlimited,
	// zero disables reconnection.
	MaxAttempts int

	// Deadline stops the loop when reached. Zero means no deadline.
	Deadline time.Time

	// AttemptTimeout bounds a single attempt. Zero means only the deadline
	// and the caller's context apply.
	AttemptTimeout time.Duration

	// IsTerminal reports errors that make further attempts pointless.
	IsTerminal func(error) bool

	// OnAttempt is called before each attempt with the delay waited.
	OnAttempt func(attempt int, delay time.Duration)

	// OnFailure is called after each failed, non-terminal attempt.
	OnFailure func(attempt int, err error)
}

// Establisher retries a ConnectFunc with exponential backoff until it
// succeeds, fails terminally, runs out of attempts or passes its deadline.
type Establisher struct {
	cfg     EstablisherConfig
	backoff *Backoff
}

// NewEstablisher creates an Establisher.
func NewEstablisher(cfg EstablisherConfig) *Establisher {
	return &Establisher{
		cfg:     cfg,
		backoff: NewBackoffWithConfig(cfg.Backoff),
	}
}

// Run calls fn until it returns nil or the loop is stopped. On failure it
// returns the terminal error itself, or ErrAttemptsExhausted /
// ErrDeadlineExceeded wrapping the last attempt's error, or ctx.Err().
func (e *Establisher) Run(ctx context.Context, fn ConnectFunc) error {
	if e.cfg.MaxAttempts == 0 {
		return ErrReconnectDisabled
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if e.cfg.MaxAttempts > 0 && attempt > e.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, e.cfg.MaxAttempts, lastErr)
		}

		var delay time.Duration
		if attempt > 1 {
			delay = e.backoff.Next()
		}
		if !e.cfg.Deadline.IsZero() {
			remaining := time.Until(e.cfg.Deadline)
			if remaining <= 0 {
				return e.deadlineErr(lastErr)
			}
			if delay > remaining {
				delay = remaining
			}
		}

		if e.cfg.OnAttempt != nil {
			e.cfg.OnAttempt(attempt, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if !e.cfg.Deadline.IsZero() && !time.Now().Before(e.cfg.Deadline) {
			return e.deadlineErr(lastErr)
		}

		err := e.attempt(ctx, fn)
		if err == nil {
			e.backoff.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.cfg.IsTerminal != nil && e.cfg.IsTerminal(err) {
			return err
		}
		lastErr = err
		if e.cfg.OnFailure != nil {
			e.cfg.OnFailure(attempt, err)
		}
	}
}

// Attempts returns the number of backoff delays taken since the last success.
func (e *Establisher) Attempts() int {
	return e.backoff.Attempts()
}

func (e *Establisher) attempt(ctx context.Context, fn ConnectFunc) error {
	if !e.cfg.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, e.cfg.Deadline)
		defer cancel()
	}
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (e *Establisher) deadlineErr(lastErr error) error {
	if lastErr == nil {
		return ErrDeadlineExceeded
	}
	return fmt.Errorf("%w: %w", ErrDeadlineExceeded, lastErr)
}
