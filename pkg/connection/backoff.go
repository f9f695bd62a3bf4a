package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default reconnect backoff. Delays are short compared to the transport
// grace period so several attempts fit inside it.
const (
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff = 100 * time.Millisecond

	// MaxBackoff is the maximum delay between attempts.
	MaxBackoff = 5 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the default reconnect backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	cfg      BackoffConfig
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
// Non-positive durations and multipliers <= 1 fall back to the defaults.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{cfg: cfg, current: cfg.Initial}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.withJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next

	return delay
}

// Peek returns the current delay (with jitter) without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withJitter(b.current)
}

// Reset returns the backoff to its initial delay.
// Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) withJitter(d time.Duration) time.Duration {
	if b.cfg.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.cfg.Jitter*rand.Float64())
}
