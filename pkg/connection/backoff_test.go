package connection

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1600 * time.Millisecond,
			3200 * time.Millisecond,
			5 * time.Second,
			5 * time.Second, // Stays at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		upper := time.Duration(float64(InitialBackoff) * (1 + JitterFactor))
		allSame := true
		first := b.Peek()
		for i := 0; i < 20; i++ {
			s := b.Peek()
			if s < InitialBackoff || s > upper {
				t.Errorf("sample %d: %v out of range [%v, %v]", i, s, InitialBackoff, upper)
			}
			if s != first {
				allSame = false
			}
		}
		if allSame {
			t.Error("all jittered samples are identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts() = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        35 * time.Millisecond,
			Multiplier: 3,
		})

		expected := []time.Duration{
			10 * time.Millisecond,
			30 * time.Millisecond,
			35 * time.Millisecond,
			35 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("InvalidConfigFallsBack", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Multiplier: 0.5, Jitter: -1})
		if got := b.Next(); got != InitialBackoff {
			t.Errorf("first delay = %v, want %v", got, InitialBackoff)
		}
		if got := b.Current(); got != 2*InitialBackoff {
			t.Errorf("second base = %v, want %v", got, 2*InitialBackoff)
		}
	})
}
