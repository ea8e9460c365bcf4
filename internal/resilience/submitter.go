package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// GuardedSubmitter wraps a [stt.Submitter] with a [Breaker]. Failed
// exchanges (transport errors and non-200 statuses) count against the
// breaker. Context cancellation does not, since it says nothing about the
// service's health.
type GuardedSubmitter struct {
	next    stt.Submitter
	breaker *Breaker
}

var _ stt.Submitter = (*GuardedSubmitter)(nil)

// Guard returns next wrapped by a breaker built from cfg.
func Guard(next stt.Submitter, cfg Config) *GuardedSubmitter {
	return &GuardedSubmitter{next: next, breaker: NewBreaker(cfg)}
}

// Breaker exposes the underlying breaker (health checks read its state).
func (g *GuardedSubmitter) Breaker() *Breaker { return g.breaker }

// Submit implements stt.Submitter.
func (g *GuardedSubmitter) Submit(ctx context.Context, req stt.Request) ([]byte, error) {
	var (
		body     []byte
		innerErr error
	)
	err := g.breaker.Do(func() error {
		body, innerErr = g.next.Submit(ctx, req)
		if innerErr != nil && (errors.Is(innerErr, context.Canceled) || (errors.Is(innerErr, context.DeadlineExceeded) && ctx.Err() != nil)) {
			return nil
		}
		return innerErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("resilience: %w", err)
	}
	return body, innerErr
}
