package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/cache"
	"github.com/KaayaanAi/mcp-crypto-news/internal/inference"
	"github.com/KaayaanAi/mcp-crypto-news/internal/keyword"
	"github.com/KaayaanAi/mcp-crypto-news/internal/lexicon"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
	"github.com/KaayaanAi/mcp-crypto-news/internal/ratelimit"
)

type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	broken bool
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return "", false, errors.New("kv down")
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("kv down")
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Ping(_ context.Context) error { return nil }

type fakeProvider struct {
	mu    sync.Mutex
	calls int32
	items int
	fn    func(items []inference.Request) ([]inference.Judgment, error)
	block chan struct{}
}

func (f *fakeProvider) Analyze(ctx context.Context, items []inference.Request) ([]inference.Judgment, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.items += len(items)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(items)
	}
	judgments := make([]inference.Judgment, len(items))
	for i := range items {
		judgments[i] = inference.Judgment{Impact: news.ImpactNeutral, Confidence: 50, AffectedCoins: []string{}, Summary: "confirmed"}
	}
	return judgments, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	results       []news.Result
	correlationID string
	notifications int
}

func (f *fakeNotifier) Notify(results []news.Result, correlationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
	f.correlationID = correlationID
	f.notifications++
}

func testLexicon() *lexicon.Lexicon {
	return &lexicon.Lexicon{
		Positive: map[string]int{"surges": 10, "approval": 10, "approves": 10, "rally": 9},
		Negative: map[string]int{"crash": 10, "hack": 10, "plunge": 9},
		Tickers:  map[string][]string{"BTC": {"btc", "bitcoin"}, "ETH": {"eth", "ethereum"}},
		Escalate: []string{"lawsuit"},
	}
}

type env struct {
	kv       *fakeKV
	provider *fakeProvider
	notifier *fakeNotifier
	limiter  *ratelimit.Limiter
	analyzer *Analyzer
}

func newEnv(t *testing.T, limit int) *env {
	t.Helper()
	classifier, err := keyword.New(testLexicon())
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		kv:       newFakeKV(),
		provider: &fakeProvider{},
		notifier: &fakeNotifier{},
		limiter:  ratelimit.New(limit, time.Hour),
	}
	store := cache.New(e.kv, 0, zap.NewNop())
	batcher := inference.NewBatcher(e.provider, time.Second, zap.NewNop())
	e.analyzer = New(store, classifier, e.limiter, batcher, e.notifier, 60, zap.NewNop())
	return e
}

var (
	bullishItem = news.Item{
		Title:   "Bitcoin surges after ETF approval",
		Summary: "SEC approves first Bitcoin spot ETF",
	}
	neutralItem = news.Item{Title: "market update", Summary: "nothing notable"}
)

func TestAnalyzeBatchOneResultPerItem(t *testing.T) {
	e := newEnv(t, 100)
	items := []news.Item{bullishItem, neutralItem, {Title: "ethereum hack and crash plunge deepens"}}

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Rejected {
		t.Fatal("unexpected rejection")
	}
	if len(resp.Results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(resp.Results))
	}
	if resp.CorrelationID == "" {
		t.Error("expected a correlation id")
	}
	for i, r := range resp.Results {
		if r.Impact == "" || r.AffectedCoins == nil || r.Lang == "" {
			t.Errorf("result %d structurally incomplete: %+v", i, r)
		}
	}
}

func TestAcceptedAtKeywordStage(t *testing.T) {
	e := newEnv(t, 100)

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{bullishItem})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := resp.Results[0]
	if r.Impact != news.ImpactPositive {
		t.Errorf("expected Positive, got %s", r.Impact)
	}
	if r.LowConfidence {
		t.Error("accepted keyword verdict must not be low confidence")
	}
	if !reflect.DeepEqual(r.AffectedCoins, []string{"BTC"}) {
		t.Errorf("expected [BTC], got %v", r.AffectedCoins)
	}
	if atomic.LoadInt32(&e.provider.calls) != 0 {
		t.Error("confident keyword verdict must not trigger an inference call")
	}
}

func TestQueuedAndConfirmedLowConfidence(t *testing.T) {
	e := newEnv(t, 100)
	e.provider.fn = func(items []inference.Request) ([]inference.Judgment, error) {
		return []inference.Judgment{{Impact: news.ImpactNeutral, Confidence: 40, AffectedCoins: []string{}, Summary: "quiet day"}}, nil
	}

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{neutralItem})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := resp.Results[0]
	if atomic.LoadInt32(&e.provider.calls) != 1 {
		t.Error("low-confidence item must be confirmed by inference")
	}
	if r.Impact != news.ImpactNeutral || r.Confidence != 40 {
		t.Errorf("expected confirmed Neutral/40, got %s/%d", r.Impact, r.Confidence)
	}
	if !r.LowConfidence {
		t.Error("confirmed confidence below threshold must be flagged low")
	}
	if r.Error != "" {
		t.Errorf("successful confirmation must not carry an error tag, got %q", r.Error)
	}
}

func TestCacheIdempotence(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	first, err := e.analyzer.AnalyzeBatch(ctx, "caller", []news.Item{neutralItem})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.analyzer.AnalyzeBatch(ctx, "caller", []news.Item{neutralItem})
	if err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&e.provider.calls); got != 1 {
		t.Errorf("expected one inference call total, got %d", got)
	}
	if !reflect.DeepEqual(first.Results[0], second.Results[0]) {
		t.Errorf("cached result differs:\nfirst:  %+v\nsecond: %+v", first.Results[0], second.Results[0])
	}
}

func TestBatchDedupeIdenticalItems(t *testing.T) {
	e := newEnv(t, 100)

	// Same content with differing case and whitespace.
	a := neutralItem
	b := news.Item{Title: "  Market   UPDATE ", Summary: "nothing  notable\n"}

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{a, b})
	if err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&e.provider.calls); got != 1 {
		t.Errorf("expected one inference call for duplicate content, got %d", got)
	}
	if e.provider.items != 1 {
		t.Errorf("expected one distinct item sent to provider, got %d", e.provider.items)
	}
	if resp.Results[0].Impact != resp.Results[1].Impact || resp.Results[0].Confidence != resp.Results[1].Confidence {
		t.Error("duplicate items must share the same verdict")
	}
}

func TestGlobalCoalescing(t *testing.T) {
	e := newEnv(t, 100)
	e.provider.block = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	responses := make([]Response, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := e.analyzer.AnalyzeBatch(ctx, "caller", []news.Item{neutralItem})
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			responses[i] = resp
		}(i)
	}

	// Let both requests reach the batcher before releasing the provider.
	time.Sleep(100 * time.Millisecond)
	close(e.provider.block)
	wg.Wait()

	if got := atomic.LoadInt32(&e.provider.calls); got != 1 {
		t.Errorf("concurrent requests for identical content must share one inference call, got %d", got)
	}
	if len(responses[0].Results) != 1 || len(responses[1].Results) != 1 {
		t.Fatal("both requests must receive results")
	}
}

func TestFallbackWhenInferenceDown(t *testing.T) {
	e := newEnv(t, 100)
	e.provider.fn = func([]inference.Request) ([]inference.Judgment, error) {
		return nil, errors.New("service down")
	}

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{neutralItem, {Title: "quiet ethereum afternoon"}})
	if err != nil {
		t.Fatalf("inference failure must not fail the request: %v", err)
	}

	for i, r := range resp.Results {
		if !r.LowConfidence {
			t.Errorf("result %d: fallback must be low confidence", i)
		}
		if r.Error != "inference_unavailable" {
			t.Errorf("result %d: expected inference_unavailable tag, got %q", i, r.Error)
		}
		if r.Impact == "" || r.AffectedCoins == nil {
			t.Errorf("result %d structurally incomplete: %+v", i, r)
		}
	}
}

func TestKeywordConfidenceCappedOnFallback(t *testing.T) {
	e := newEnv(t, 100)
	e.provider.fn = func([]inference.Request) ([]inference.Judgment, error) {
		return nil, errors.New("service down")
	}

	// Strong keyword signal that still escalates via the "lawsuit" term.
	item := news.Item{Title: "Bitcoin surges as rally builds on approval", Summary: "regulator approves fund despite lawsuit"}
	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{item})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].Confidence > 75 {
		t.Errorf("fallback confidence must be capped at 75, got %d", resp.Results[0].Confidence)
	}
}

func TestRateLimitRejection(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	if resp, _ := e.analyzer.AnalyzeBatch(ctx, "caller", []news.Item{bullishItem}); resp.Rejected {
		t.Fatal("first request must be admitted")
	}
	resp, err := e.analyzer.AnalyzeBatch(ctx, "caller", []news.Item{bullishItem})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Rejected {
		t.Fatal("second request must be rejected")
	}
	if resp.RetryAfter <= 0 {
		t.Errorf("expected positive retryAfter, got %v", resp.RetryAfter)
	}
	if len(resp.Results) != 0 {
		t.Error("rejected request must carry no results")
	}
}

func TestInvalidInputSurfaced(t *testing.T) {
	e := newEnv(t, 100)

	_, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{bullishItem, {Title: " ", Summary: ""}})
	if !errors.Is(err, normalize.ErrEmptyItem) {
		t.Errorf("expected ErrEmptyItem, got %v", err)
	}
}

func TestCacheUnavailableStillAnswers(t *testing.T) {
	e := newEnv(t, 100)
	e.kv.broken = true

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{bullishItem})
	if err != nil {
		t.Fatalf("cache failure must not fail the request: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatal("expected a result despite cache being down")
	}
	if resp.Results[0].Error != "" {
		t.Errorf("cache failure must not surface on results, got %q", resp.Results[0].Error)
	}
}

func TestNotifierReceivesResults(t *testing.T) {
	e := newEnv(t, 100)

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{bullishItem})
	if err != nil {
		t.Fatal(err)
	}

	e.notifier.mu.Lock()
	defer e.notifier.mu.Unlock()
	if e.notifier.notifications != 1 {
		t.Fatalf("expected one notification, got %d", e.notifier.notifications)
	}
	if e.notifier.correlationID != resp.CorrelationID {
		t.Error("notification must carry the request's correlation id")
	}
	if !reflect.DeepEqual(e.notifier.results, resp.Results) {
		t.Error("notification must carry the response results")
	}
}

func TestArabicFallbackSummary(t *testing.T) {
	e := newEnv(t, 100)
	e.provider.fn = func([]inference.Request) ([]inference.Judgment, error) {
		return nil, errors.New("down")
	}

	resp, err := e.analyzer.AnalyzeBatch(context.Background(), "caller", []news.Item{{Title: "أخبار السوق اليوم"}})
	if err != nil {
		t.Fatal(err)
	}
	r := resp.Results[0]
	if r.Lang != "ar" {
		t.Errorf("expected detected lang ar, got %q", r.Lang)
	}
	if r.Summary == "" {
		t.Error("expected a fallback summary")
	}
}
