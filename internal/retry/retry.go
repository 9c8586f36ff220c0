// Package retry computes the delay before the next delivery attempt.
package retry

import "math"

// Type is the delay-growth policy between attempts.
type Type string

const (
	Linear      Type = "linear"
	Exponential Type = "exponential"
)

// IsValid checks whether the type is a known value.
func (t Type) IsValid() bool {
	switch t {
	case Linear, Exponential:
		return true
	}
	return false
}

// Default bounds applied when Params leaves them zero.
const (
	DefaultMinDelaySeconds = 10
	DefaultMaxDelaySeconds = 60 * 60 * 3
)

// Params holds the inputs to Delay. AttemptNumber is 1-based.
type Params struct {
	BaseDelaySeconds int
	AttemptNumber    int
	Type             Type
	MinDelaySeconds  int
	MaxDelaySeconds  int
}

// Delay returns the delay in seconds before the next attempt, clamped to
// [min, max]. Unknown types use the base delay unchanged.
func Delay(p Params) int {
	minDelay := p.MinDelaySeconds
	if minDelay <= 0 {
		minDelay = DefaultMinDelaySeconds
	}
	maxDelay := p.MaxDelaySeconds
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelaySeconds
	}
	attempt := p.AttemptNumber
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelaySeconds)
	switch p.Type {
	case Exponential:
		delay *= math.Pow(2, float64(attempt-1))
	case Linear:
		delay *= float64(attempt)
	}

	return Clamp(delay, minDelay, maxDelay)
}

// Clamp bounds v to [lo, hi]. Values beyond the int range saturate to hi.
func Clamp(v float64, lo, hi int) int {
	if math.IsNaN(v) || v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}
