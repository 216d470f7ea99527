package reasoning

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/pkg/ferr"
)

const (
	maxBackoff = 30 * time.Second

	clarificationSuffix = "\n\n## Clarification\n\n" +
		"The previous answer could not be parsed. Respond with exactly one JSON object " +
		"matching the response contract above and nothing else. No prose, no markdown fence."
)

// Gateway mediates every exchange with the reasoning service. It paces
// requests through the limiter, retries transient failures with backoff,
// and grants the service one clarified retry when an answer arrives intact
// but cannot be parsed into a Decision.
type Gateway struct {
	provider    Provider
	limiter     *Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func NewGateway(provider Provider, env *config.ReasoningEnv) *Gateway {
	return &Gateway{
		provider:    provider,
		limiter:     NewLimiter(env.RequestsPerMinute, env.Burst),
		maxRetries:  env.MaxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Ask runs one exchange and parses the answer into a Decision.
func (g *Gateway) Ask(ctx context.Context, req *Request) (*Decision, error) {
	answer, err := g.complete(ctx, req)
	if err == nil {
		decision, perr := ParseDecision(answer)
		if perr == nil {
			return decision, nil
		}
		err = perr
	}
	if !IsMalformed(err) {
		return nil, err
	}

	slog.Warn("reasoning: unparsable answer, asking for clarification", "error", err)
	clarified := *req
	clarified.Prompt = req.Prompt + clarificationSuffix
	answer, err = g.complete(ctx, &clarified)
	if err != nil {
		if IsMalformed(err) {
			return nil, ferr.NewError(ferr.ReasoningMalformed, "reasoning service returned no usable decision", err)
		}
		return nil, err
	}
	decision, err := ParseDecision(answer)
	if err != nil {
		return nil, ferr.NewError(ferr.ReasoningMalformed, "reasoning service returned no usable decision", err)
	}
	return decision, nil
}

// complete performs one paced completion, retrying transient failures.
// Malformed answers are returned to Ask unretried: repeating an identical
// prompt will not fix them, the clarification might.
func (g *Gateway) complete(ctx context.Context, req *Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleepBackoff(ctx, attempt); err != nil {
				return "", ferr.NewError(ferr.Cancelled, "reasoning cancelled", err)
			}
		}
		if err := g.limiter.Acquire(ctx); err != nil {
			return "", ferr.NewError(ferr.Cancelled, "reasoning cancelled", err)
		}

		answer, err := g.provider.Complete(ctx, req)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if IsMalformed(err) {
			return "", err
		}
		if !IsTransient(err) {
			break
		}
		slog.Warn("reasoning: attempt failed", "attempt", attempt+1, "error", err)
	}
	if ctx.Err() != nil {
		return "", ferr.NewError(ferr.Cancelled, "reasoning cancelled", ctx.Err())
	}
	return "", ferr.NewError(ferr.ReasoningUnavailable, "reasoning service unavailable", lastErr)
}

func (g *Gateway) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := g.baseBackoff << uint(attempt-1)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff/2) + 1))
	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
