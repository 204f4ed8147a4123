package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one external inference call.
const DefaultTimeout = 15 * time.Second

// Pending is an item queued for confirmation, identified by its normalized
// cache key.
type Pending struct {
	Key string
	Req Request
}

// Outcome is the confirmation result for one key: either a judgment or the
// error that prevented one.
type Outcome struct {
	Judgment Judgment
	Err      error
}

// call is the in-flight marker for one key. Requests arriving while a call
// is pending wait on done and share the outcome instead of issuing a
// duplicate external call.
type call struct {
	done     chan struct{}
	judgment Judgment
	err      error
}

// Batcher confirms batches of items with the provider, deduplicating keys
// within a batch and coalescing concurrent requests for the same key across
// the whole service.
type Batcher struct {
	provider Provider
	timeout  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// NewBatcher creates a Batcher. A zero timeout selects DefaultTimeout.
func NewBatcher(provider Provider, timeout time.Duration, logger *zap.Logger) *Batcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Batcher{
		provider: provider,
		timeout:  timeout,
		logger:   logger.Named("inference"),
		inflight: make(map[string]*call),
	}
}

// Confirm resolves every distinct key in pending and returns one outcome per
// key. Keys not already in flight elsewhere are sent to the provider in a
// single call; keys with a pending call elsewhere attach to it. A provider
// failure never fails Confirm: affected keys carry an error outcome and the
// caller falls back to its keyword verdict.
func (b *Batcher) Confirm(ctx context.Context, pending []Pending) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(pending))
	if len(pending) == 0 {
		return outcomes
	}

	var (
		owned  []Pending
		joined = make(map[string]*call)
		seen   = make(map[string]bool)
	)

	b.mu.Lock()
	for _, p := range pending {
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		if c, ok := b.inflight[p.Key]; ok {
			joined[p.Key] = c
			continue
		}
		b.inflight[p.Key] = &call{done: make(chan struct{})}
		owned = append(owned, p)
	}
	b.mu.Unlock()

	if len(owned) > 0 {
		b.resolve(ctx, owned, outcomes)
	}

	for key, c := range joined {
		select {
		case <-c.done:
			outcomes[key] = Outcome{Judgment: c.judgment, Err: c.err}
		case <-ctx.Done():
			outcomes[key] = Outcome{Err: ctx.Err()}
		}
	}
	return outcomes
}

// resolve makes the single external call for the owned keys and publishes
// each outcome to its in-flight marker. The call is detached from the
// caller's cancellation: once dispatched it runs to completion so the paid
// result can still be cached.
func (b *Batcher) resolve(ctx context.Context, owned []Pending, outcomes map[string]Outcome) {
	reqs := make([]Request, len(owned))
	for i, p := range owned {
		reqs[i] = p.Req
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	start := time.Now()
	judgments, err := b.provider.Analyze(callCtx, reqs)
	if err == nil && len(judgments) != len(owned) {
		err = fmt.Errorf("provider returned %d judgments for %d items", len(judgments), len(owned))
	}
	if err != nil {
		b.logger.Warn("inference call failed, falling back to keyword verdicts",
			zap.Int("items", len(owned)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	} else {
		b.logger.Debug("inference batch resolved",
			zap.Int("items", len(owned)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	b.mu.Lock()
	for i, p := range owned {
		c := b.inflight[p.Key]
		if err != nil {
			c.err = err
		} else {
			c.judgment = judgments[i]
		}
		close(c.done)
		delete(b.inflight, p.Key)
		outcomes[p.Key] = Outcome{Judgment: c.judgment, Err: c.err}
	}
	b.mu.Unlock()
}
