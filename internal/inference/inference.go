// Package inference talks to the external LLM service that confirms
// sentiment verdicts the keyword heuristic is unsure about. One provider
// call covers a whole batch of items; per-item calls are never issued.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
)

// Request is one news item submitted for confirmation.
type Request struct {
	Title   string
	Summary string
	Lang    string
}

// Judgment is the service's structured verdict for one item.
type Judgment struct {
	Impact        news.Impact
	Confidence    int
	AffectedCoins []string
	Summary       string
}

// Provider analyzes a batch of items in a single external call and returns
// one judgment per item, aligned with the input order.
type Provider interface {
	Analyze(ctx context.Context, items []Request) ([]Judgment, error)
}

// New creates a Provider for the named backend ("openai" or "claude").
func New(provider, model, apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inference not configured: missing API key")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	switch provider {
	case "openai":
		if model == "" {
			model = "gpt-4o-mini"
		}
		return &openaiProvider{apiKey: apiKey, model: model, client: client, baseURL: openaiBaseURL}, nil
	case "claude":
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return &claudeProvider{apiKey: apiKey, model: model, client: client, baseURL: claudeBaseURL}, nil
	default:
		return nil, fmt.Errorf("unknown inference provider: %q (valid: openai, claude)", provider)
	}
}

// Unconfigured returns a Provider whose calls always fail, used when no API
// key is available so the pipeline runs in keyword-only mode.
func Unconfigured() Provider { return unconfigured{} }

type unconfigured struct{}

func (unconfigured) Analyze(context.Context, []Request) ([]Judgment, error) {
	return nil, fmt.Errorf("inference not configured")
}

const analyzePrompt = `You are a cryptocurrency market analyst. Assess the immediate market sentiment and price impact potential of each numbered news item.

Respond with ONLY a JSON array containing exactly one object per item, in the same order:
[{"impact": "Positive|Negative|Neutral", "confidence": 0-100, "affected_coins": ["BTC"], "summary": "Brief summary for trading alerts"}]

Items:
%s`

func formatItems(items []Request) string {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. [%s] Title: %s\n", i+1, item.Lang, item.Title)
		if item.Summary != "" {
			fmt.Fprintf(&sb, "   Summary: %s\n", item.Summary)
		}
	}
	return sb.String()
}

var jsonArray = regexp.MustCompile(`(?s)\[.*\]`)

type rawJudgment struct {
	Impact        string   `json:"impact"`
	Confidence    int      `json:"confidence"`
	AffectedCoins []string `json:"affected_coins"`
	Summary       string   `json:"summary"`
}

// parseJudgments extracts the JSON array from a model response and validates
// it against the expected item count.
func parseJudgments(text string, n int) ([]Judgment, error) {
	match := jsonArray.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var raw []rawJudgment
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, fmt.Errorf("decoding judgments: %w", err)
	}
	if len(raw) != n {
		return nil, fmt.Errorf("expected %d judgments, got %d", n, len(raw))
	}

	judgments := make([]Judgment, len(raw))
	for i, r := range raw {
		judgments[i] = Judgment{
			Impact:        news.ParseImpact(r.Impact),
			Confidence:    clamp(r.Confidence, 0, 100),
			AffectedCoins: normalizeCoins(r.AffectedCoins),
			Summary:       r.Summary,
		}
		if judgments[i].Summary == "" {
			judgments[i].Summary = "Analysis completed"
		}
	}
	return judgments, nil
}

// normalizeCoins upper-cases tickers and drops duplicates, preserving order.
func normalizeCoins(coins []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, c := range coins {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
