// Package backoff provides retry delay strategies for failed jobs and for
// transient broker errors. All strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before the retry that follows the
	// n-th failure (n >= 1).
	Delay(n int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration `json:"interval"`
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the failure count.
// Delay = min(Initial * n, Max).
type Linear struct {
	Initial time.Duration `json:"initial"`
	Max     time.Duration `json:"max"`
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * n, capped at Max.
func (l *Linear) Delay(n int) time.Duration {
	d := l.Initial * time.Duration(n)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with every failure.
// Delay = min(Base * 2^n, Max).
type Exponential struct {
	Base time.Duration `json:"base"`
	Max  time.Duration `json:"max"`
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^n, capped at Max.
func (e *Exponential) Delay(n int) time.Duration {
	return capped(float64(e.Base)*math.Pow(2, float64(n)), e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^n, Max)].
type ExponentialWithJitter struct {
	Base time.Duration `json:"base"`
	Max  time.Duration `json:"max"`
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^n, Max)].
func (e *ExponentialWithJitter) Delay(n int) time.Duration {
	ceiling := capped(float64(e.Base)*math.Pow(2, float64(n)), e.Max)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// capped converts d to a Duration, clamping to maxDelay (when set) and to
// the largest representable Duration.
func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d >= math.MaxInt64 || math.IsInf(d, 1) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default job retry backoff: exponential with
// a 1s base, capped at 1h.
func DefaultStrategy() *Exponential {
	return NewExponential(1*time.Second, 1*time.Hour)
}

// TransportStrategy returns the backoff used for transient broker errors:
// full jitter with a 50ms base, capped at 2s.
func TransportStrategy() Strategy {
	return NewExponentialWithJitter(50*time.Millisecond, 2*time.Second)
}
