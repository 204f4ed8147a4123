// Package webhook delivers completed analysis results to a configured HTTP
// receiver. Delivery is fire-and-forget relative to the caller's response
// path: results are handed to a background worker and never block or fail
// the original request.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, computed
// with the shared secret, so the receiver can verify authenticity.
const SignatureHeader = "X-Signature"

const (
	defaultQueueSize = 64
	defaultRetries   = 3
	defaultBackoff   = time.Second
	deliverTimeout   = 10 * time.Second
)

// Mode selects whether one POST covers a whole batch or each item.
type Mode string

const (
	ModeBatch Mode = "batch"
	ModeItem  Mode = "item"
)

// Payload is the JSON body POSTed to the receiver.
type Payload struct {
	CorrelationID string         `json:"correlation_id"`
	Timestamp     string         `json:"timestamp"`
	TotalItems    int            `json:"total_items"`
	Results       []news.Result  `json:"results"`
	SummaryStats  map[string]int `json:"summary_stats"`
}

// Options configures a Notifier.
type Options struct {
	URL     string
	Secret  string
	Mode    Mode
	Retries int
	Backoff time.Duration
}

type delivery struct {
	results       []news.Result
	correlationID string
}

// Notifier posts analysis results to the configured receiver with bounded
// retries. With no URL configured every method is a no-op.
type Notifier struct {
	opts   Options
	client *http.Client
	queue  chan delivery
	logger *zap.Logger
}

// New creates a Notifier. Call Start before Notify.
func New(opts Options, logger *zap.Logger) *Notifier {
	if opts.Mode == "" {
		opts.Mode = ModeBatch
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	n := &Notifier{
		opts:   opts,
		client: &http.Client{Timeout: deliverTimeout},
		queue:  make(chan delivery, defaultQueueSize),
		logger: logger.Named("webhook"),
	}
	if opts.URL == "" {
		n.logger.Info("webhook notifications disabled (no URL configured)")
	}
	return n
}

// Enabled reports whether a receiver is configured.
func (n *Notifier) Enabled() bool { return n.opts.URL != "" }

// Start launches the delivery worker. Non-blocking; the worker drains the
// queue until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	if !n.Enabled() {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-n.queue:
				n.deliver(ctx, d)
			}
		}
	}()
}

// Notify enqueues results for delivery and returns immediately. When the
// queue is full the notification is dropped and logged: notification is
// best-effort and never backpressures the response path.
func (n *Notifier) Notify(results []news.Result, correlationID string) {
	if !n.Enabled() || len(results) == 0 {
		return
	}

	deliveries := []delivery{{results: results, correlationID: correlationID}}
	if n.opts.Mode == ModeItem {
		deliveries = deliveries[:0]
		for _, r := range results {
			deliveries = append(deliveries, delivery{results: []news.Result{r}, correlationID: correlationID})
		}
	}

	for _, d := range deliveries {
		select {
		case n.queue <- d:
		default:
			n.logger.Warn("webhook queue full, dropping notification",
				zap.String("correlation_id", correlationID))
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	payload := Payload{
		CorrelationID: d.correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TotalItems:    len(d.results),
		Results:       d.results,
		SummaryStats:  summarize(d.results),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook payload not serializable", zap.Error(err))
		return
	}

	backoff := n.opts.Backoff
	for attempt := 1; attempt <= n.opts.Retries; attempt++ {
		err = n.post(ctx, body)
		if err == nil {
			n.logger.Debug("webhook delivered",
				zap.String("correlation_id", d.correlationID),
				zap.Int("items", len(d.results)),
			)
			return
		}
		if attempt < n.opts.Retries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	n.logger.Warn("webhook delivery failed, giving up",
		zap.String("correlation_id", d.correlationID),
		zap.Int("attempts", n.opts.Retries),
		zap.Error(err),
	)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", n.opts.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mcp-crypto-news-webhook")
	if n.opts.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.opts.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body with the shared secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// summarize aggregates verdict counts for the receiver.
func summarize(results []news.Result) map[string]int {
	stats := map[string]int{
		"positive":        0,
		"negative":        0,
		"neutral":         0,
		"high_confidence": 0,
		"low_confidence":  0,
		"errors":          0,
	}
	for _, r := range results {
		switch r.Impact {
		case news.ImpactPositive:
			stats["positive"]++
		case news.ImpactNegative:
			stats["negative"]++
		default:
			stats["neutral"]++
		}
		if r.Confidence > 75 {
			stats["high_confidence"]++
		} else {
			stats["low_confidence"]++
		}
		if r.Error != "" {
			stats["errors"]++
		}
	}
	return stats
}
