package sender

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"bulksend/internal/dispatch"
)

// Limited caps the send rate of the wrapped driver with a token bucket.
// It guards the backend independently of the pacing policy.
type Limited struct {
	next    Driver
	limiter *rate.Limiter
}

func NewLimited(next Driver, perSecond float64, burst int) *Limited {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Send(ctx context.Context, t dispatch.SendTask) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Send(ctx, t)
}

func (l *Limited) Close() error { return l.next.Close() }
