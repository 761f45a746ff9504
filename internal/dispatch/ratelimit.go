package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/model"
)

// Limiter bounds outbound sends per second per channel kind. Buckets are
// shared across every campaign loop in the process, so concurrently
// processing campaigns on the same kind split the budget instead of
// multiplying it.
type Limiter struct {
	mu      sync.Mutex
	buckets map[model.ChannelKind]*rate.Limiter
	rates   config.SendRatesConfig
}

func NewLimiter(rates config.SendRatesConfig) *Limiter {
	return &Limiter{
		buckets: make(map[model.ChannelKind]*rate.Limiter),
		rates:   rates,
	}
}

func (l *Limiter) bucket(kind model.ChannelKind) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[kind]; ok {
		return b
	}
	r := l.rates.Of(kind.String())
	rps := r.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := r.Burst
	if burst <= 0 {
		burst = rps
	}
	b := rate.NewLimiter(rate.Limit(rps), burst)
	l.buckets[kind] = b
	return b
}

// Acquire blocks for one token up to timeout. A timeout is not a send
// failure: the caller returns the job to pending for a later attempt.
func (l *Limiter) Acquire(ctx context.Context, kind model.ChannelKind, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.bucket(kind).Wait(ctx)
}
