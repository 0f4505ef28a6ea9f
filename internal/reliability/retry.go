package reliability

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a retry attempt.
type BackoffPolicy interface {
	// NextDelay calculates the delay after the given zero-based attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay with each attempt.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates an exponential backoff policy without jitter,
// so delays follow initial * multiplier^attempt exactly.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
	}
}

// NextDelay implements BackoffPolicy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15% jitter
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// FixedDelay waits the same interval between every attempt.
type FixedDelay struct {
	Delay time.Duration
}

// NewFixedDelay creates a fixed delay policy.
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Delay: delay}
}

// NextDelay implements BackoffPolicy.
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}
