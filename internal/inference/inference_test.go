package inference

import (
	"reflect"
	"strings"
	"testing"

	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
)

func TestParseJudgments(t *testing.T) {
	text := `Here is my analysis:
[{"impact": "Positive", "confidence": 85, "affected_coins": ["btc"], "summary": "ETF approved"},
 {"impact": "Negative", "confidence": 70, "affected_coins": ["ETH", "eth"], "summary": "Exchange hacked"}]`

	judgments, err := parseJudgments(text, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if judgments[0].Impact != news.ImpactPositive || judgments[0].Confidence != 85 {
		t.Errorf("unexpected first judgment: %+v", judgments[0])
	}
	if !reflect.DeepEqual(judgments[0].AffectedCoins, []string{"BTC"}) {
		t.Errorf("expected coins upper-cased, got %v", judgments[0].AffectedCoins)
	}
	if !reflect.DeepEqual(judgments[1].AffectedCoins, []string{"ETH"}) {
		t.Errorf("expected duplicate coins dropped, got %v", judgments[1].AffectedCoins)
	}
}

func TestParseJudgmentsCountMismatch(t *testing.T) {
	text := `[{"impact": "Neutral", "confidence": 50, "summary": "x"}]`
	if _, err := parseJudgments(text, 2); err == nil {
		t.Error("expected error for judgment count mismatch")
	}
}

func TestParseJudgmentsNoJSON(t *testing.T) {
	if _, err := parseJudgments("I cannot analyze this.", 1); err == nil {
		t.Error("expected error when no JSON array present")
	}
}

func TestParseJudgmentsClampsConfidence(t *testing.T) {
	text := `[{"impact": "Positive", "confidence": 150, "summary": "x"},
	          {"impact": "Negative", "confidence": -5, "summary": "y"}]`
	judgments, err := parseJudgments(text, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if judgments[0].Confidence != 100 {
		t.Errorf("expected clamp to 100, got %d", judgments[0].Confidence)
	}
	if judgments[1].Confidence != 0 {
		t.Errorf("expected clamp to 0, got %d", judgments[1].Confidence)
	}
}

func TestParseJudgmentsUnknownImpact(t *testing.T) {
	text := `[{"impact": "Bullish", "confidence": 60, "summary": "x"}]`
	judgments, err := parseJudgments(text, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if judgments[0].Impact != news.ImpactNeutral {
		t.Errorf("unknown impact must default to Neutral, got %s", judgments[0].Impact)
	}
}

func TestParseJudgmentsDefaultSummary(t *testing.T) {
	text := `[{"impact": "Positive", "confidence": 60}]`
	judgments, err := parseJudgments(text, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if judgments[0].Summary == "" {
		t.Error("expected a default summary for empty field")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("gemini", "", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewMissingKey(t *testing.T) {
	if _, err := New("openai", "", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestFormatItems(t *testing.T) {
	out := formatItems([]Request{
		{Title: "Bitcoin surges", Summary: "ETF approved", Lang: "en"},
		{Title: "headline only", Lang: "ar"},
	})
	if out == "" {
		t.Fatal("expected formatted items")
	}
	for _, want := range []string{"1. [en]", "2. [ar]", "Bitcoin surges", "Summary: ETF approved"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted items missing %q:\n%s", want, out)
		}
	}
}
