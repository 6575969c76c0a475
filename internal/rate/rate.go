// Package rate builds the optional accept-side token-bucket limiter
// placed in front of the listener's Accept loop.
package rate

import "golang.org/x/time/rate"

// NewAcceptLimiter returns a token-bucket limiter sized at rps tokens per
// second with a matching burst, or nil when rps <= 0 (limiting disabled).
func NewAcceptLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
