package keyword

import (
	"reflect"
	"testing"

	"github.com/KaayaanAi/mcp-crypto-news/internal/lexicon"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	lex, err := lexicon.Default()
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(lex)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func record(t *testing.T, title, summary string) normalize.Record {
	t.Helper()
	_, rec, err := normalize.Normalize(news.Item{Title: title, Summary: summary})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestClassifyBullish(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "Bitcoin surge and rally continue", "Bullish breakout as adoption grows"))
	if v.Impact != news.ImpactPositive {
		t.Errorf("expected Positive, got %s", v.Impact)
	}
	if v.Confidence < 60 {
		t.Errorf("expected strong confidence, got %d", v.Confidence)
	}
	if !reflect.DeepEqual(v.Coins, []string{"BTC"}) {
		t.Errorf("expected [BTC], got %v", v.Coins)
	}
}

func TestClassifyBearish(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "Ethereum crash deepens", "Panic selling as exchange hack triggers collapse"))
	if v.Impact != news.ImpactNegative {
		t.Errorf("expected Negative, got %s", v.Impact)
	}
	if v.Confidence < 60 {
		t.Errorf("expected strong confidence, got %d", v.Confidence)
	}
}

func TestClassifyNeutralNoMatches(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "market update", "nothing notable"))
	if v.Impact != news.ImpactNeutral {
		t.Errorf("expected Neutral, got %s", v.Impact)
	}
	if v.Confidence != 40 {
		t.Errorf("expected baseline confidence 40, got %d", v.Confidence)
	}
}

func TestClassifyTickerOnlyText(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "BTC ETH", ""))
	if v.Impact != news.ImpactNeutral {
		t.Errorf("expected Neutral for ticker-only text, got %s", v.Impact)
	}
	if !reflect.DeepEqual(v.Coins, []string{"BTC", "ETH"}) {
		t.Errorf("expected [BTC ETH], got %v", v.Coins)
	}
}

func TestClassifyConfidenceCapped(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "surge surge surge surge surge", "rally rally rally pump moon gain"))
	if v.Confidence > 85 {
		t.Errorf("keyword confidence must be capped at 85, got %d", v.Confidence)
	}
}

func TestClassifyExactTokenMatchOnly(t *testing.T) {
	c := newClassifier(t)
	// "upside" must not count as "up"
	v := c.Classify(record(t, "upside potential discussed", ""))
	if v.Impact != news.ImpactNeutral {
		t.Errorf("expected Neutral, got %s with confidence %d", v.Impact, v.Confidence)
	}
}

func TestClassifyMultiWordTerm(t *testing.T) {
	c := newClassifier(t)
	v := c.Classify(record(t, "Bitcoin hits new high", "Traders see another new high ahead"))
	if v.Impact != news.ImpactPositive {
		t.Errorf("expected Positive from multi-word term, got %s", v.Impact)
	}
}

func TestNeedsConfirmationLowConfidence(t *testing.T) {
	c := newClassifier(t)
	rec := record(t, "market update", "nothing notable")
	v := c.Classify(rec)
	if !c.NeedsConfirmation(v, rec, 60) {
		t.Error("low-confidence verdict must require confirmation")
	}
}

func TestNeedsConfirmationEscalationTerm(t *testing.T) {
	c := newClassifier(t)
	rec := record(t, "Bitcoin surge rally bullish breakout adoption", "SEC weighs new rules")
	v := c.Classify(rec)
	if v.Confidence < 60 {
		t.Fatalf("test setup: expected high confidence, got %d", v.Confidence)
	}
	if !c.NeedsConfirmation(v, rec, 60) {
		t.Error("escalation term must force confirmation despite high confidence")
	}
}

func TestNeedsConfirmationAccepted(t *testing.T) {
	c := newClassifier(t)
	rec := record(t, "Dogecoin surge rally bullish breakout", "Strong adoption milestone gain")
	v := c.Classify(rec)
	if v.Confidence < 60 {
		t.Fatalf("test setup: expected high confidence, got %d", v.Confidence)
	}
	if c.NeedsConfirmation(v, rec, 60) {
		t.Error("confident verdict without escalation terms must be accepted")
	}
}

func TestDetectCoinsAliases(t *testing.T) {
	c := newClassifier(t)
	coins := c.DetectCoins("ethereum and solana rally while ripple lags")
	expected := []string{"ETH", "SOL", "XRP"}
	if !reflect.DeepEqual(coins, expected) {
		t.Errorf("expected %v, got %v", expected, coins)
	}
}

func TestDetectCoinsNoPartialMatch(t *testing.T) {
	c := newClassifier(t)
	coins := c.DetectCoins("blockchain technology advances")
	if len(coins) != 0 {
		t.Errorf("expected no coins, got %v", coins)
	}
}
