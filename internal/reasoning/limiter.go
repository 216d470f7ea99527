package reasoning

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket pacing requests to the reasoning service.
// Tokens refill continuously at a per-minute rate up to a burst ceiling.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	rate   float64 // tokens per second
	last   time.Time
	now    func() time.Time
}

func NewLimiter(requestsPerMinute, burst int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		tokens: float64(burst),
		burst:  float64(burst),
		rate:   float64(requestsPerMinute) / 60,
		now:    time.Now,
	}
	l.last = l.now()
	return l
}

// Acquire takes one token, blocking until the bucket refills or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := l.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take refills by elapsed time and claims a token if one is available.
// Otherwise it reports how long until the next token lands.
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	deficit := 1 - l.tokens
	return time.Duration(deficit / l.rate * float64(time.Second)), false
}
