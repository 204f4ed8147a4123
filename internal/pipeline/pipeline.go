// Package pipeline composes normalization, caching, keyword classification,
// inference confirmation, and webhook notification into the batch analysis
// operation exposed to transports. The guiding rule is availability over
// completeness: the pipeline always answers, degrading confidence rather
// than failing a request because a dependency is down.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/cache"
	"github.com/KaayaanAi/mcp-crypto-news/internal/inference"
	"github.com/KaayaanAi/mcp-crypto-news/internal/keyword"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
	"github.com/KaayaanAi/mcp-crypto-news/internal/ratelimit"
)

// DefaultThreshold is the confidence cutoff below which a keyword verdict
// must be confirmed by inference.
const DefaultThreshold = 60

// Notifier receives completed results off the response path.
type Notifier interface {
	Notify(results []news.Result, correlationID string)
}

// Response is the outcome of one batch analysis request.
type Response struct {
	CorrelationID string
	Results       []news.Result
	Rejected      bool
	RetryAfter    time.Duration
}

// Analyzer orchestrates the hybrid classification pipeline.
type Analyzer struct {
	cache      *cache.Store
	classifier *keyword.Classifier
	limiter    *ratelimit.Limiter
	batcher    *inference.Batcher
	notifier   Notifier
	threshold  int
	logger     *zap.Logger
}

// New wires an Analyzer. A zero threshold selects DefaultThreshold.
func New(store *cache.Store, classifier *keyword.Classifier, limiter *ratelimit.Limiter,
	batcher *inference.Batcher, notifier Notifier, threshold int, logger *zap.Logger) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Analyzer{
		cache:      store,
		classifier: classifier,
		limiter:    limiter,
		batcher:    batcher,
		notifier:   notifier,
		threshold:  threshold,
		logger:     logger.Named("pipeline"),
	}
}

// item tracks one input through the pipeline stages.
type item struct {
	key     string
	rec     normalize.Record
	hit     bool
	verdict keyword.Verdict
	confirm bool
	result  news.Result
}

// AnalyzeBatch analyzes items for callerID and returns one result per input
// item, in input order. The only request-level failures are rate-limit
// rejection (reported in the Response) and invalid input (an item with
// neither title nor summary). Everything else degrades per item.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, callerID string, items []news.Item) (Response, error) {
	correlationID := uuid.NewString()
	logger := a.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("caller", callerID),
	)

	if ok, retryAfter := a.limiter.Admit(callerID); !ok {
		logger.Info("request rejected by rate limiter", zap.Duration("retry_after", retryAfter))
		return Response{CorrelationID: correlationID, Rejected: true, RetryAfter: retryAfter}, nil
	}

	if len(items) == 0 {
		return Response{CorrelationID: correlationID, Results: []news.Result{}}, nil
	}

	work := make([]item, len(items))
	for i, in := range items {
		key, rec, err := normalize.Normalize(in)
		if err != nil {
			return Response{}, fmt.Errorf("item %d: %w", i, err)
		}
		work[i] = item{key: key, rec: rec}
	}

	var pending []inference.Pending
	for i := range work {
		w := &work[i]
		if res, ok := a.cache.Get(ctx, w.key); ok {
			w.hit = true
			w.result = res
			continue
		}
		w.verdict = a.classifier.Classify(w.rec)
		if a.classifier.NeedsConfirmation(w.verdict, w.rec, a.threshold) {
			w.confirm = true
			pending = append(pending, inference.Pending{
				Key: w.key,
				Req: inference.Request{Title: w.rec.Title, Summary: w.rec.Summary, Lang: w.rec.Lang},
			})
		}
	}

	var outcomes map[string]inference.Outcome
	if len(pending) > 0 {
		outcomes = a.batcher.Confirm(ctx, pending)
	}

	results := make([]news.Result, len(items))
	for i := range work {
		w := &work[i]
		if w.hit {
			results[i] = w.result
			continue
		}
		var outcome *inference.Outcome
		if w.confirm {
			if o, ok := outcomes[w.key]; ok {
				outcome = &o
			} else {
				outcome = &inference.Outcome{Err: fmt.Errorf("no outcome for key")}
			}
		}
		results[i] = merge(w.rec, w.verdict, outcome, a.threshold)
		a.cache.Put(ctx, w.key, results[i])
	}

	logger.Info("batch analysis completed",
		zap.Int("items", len(items)),
		zap.Int("confirmed", len(pending)),
	)

	if a.notifier != nil {
		a.notifier.Notify(results, correlationID)
	}

	return Response{CorrelationID: correlationID, Results: results}, nil
}
