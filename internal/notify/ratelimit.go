package notify

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound messages with a token bucket so bursts of join
// requests do not trip platform flood control.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter allowing perSecond messages with the given
// burst. A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a message may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
