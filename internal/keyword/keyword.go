// Package keyword implements the fast local sentiment heuristic. It runs on
// every cache-miss item and decides whether the costlier inference stage is
// needed at all.
package keyword

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/KaayaanAi/mcp-crypto-news/internal/lexicon"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
)

// Keyword scores are capped below full confidence: only the inference stage
// can produce a 100.
const maxConfidence = 85

// Verdict is the preliminary classification produced by the heuristic.
type Verdict struct {
	Impact     news.Impact
	Confidence int
	Coins      []string
}

type tickerPattern struct {
	symbol  string
	pattern *regexp.Regexp
}

// Classifier scores news text against a sentiment lexicon. It is pure and
// safe for concurrent use.
type Classifier struct {
	lex     *lexicon.Lexicon
	tickers []tickerPattern
}

// New compiles the ticker alias patterns and returns a Classifier.
func New(lex *lexicon.Lexicon) (*Classifier, error) {
	c := &Classifier{lex: lex}

	symbols := make([]string, 0, len(lex.Tickers))
	for symbol := range lex.Tickers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		aliases := lex.Tickers[symbol]
		quoted := make([]string, len(aliases))
		for i, a := range aliases {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(a))
		}
		re, err := regexp.Compile(`\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling ticker %s: %w", symbol, err)
		}
		c.tickers = append(c.tickers, tickerPattern{symbol: symbol, pattern: re})
	}
	return c, nil
}

// Classify scores the record's text and returns a preliminary verdict. It
// always returns a structurally valid verdict, even for empty or ticker-only
// text.
func (c *Classifier) Classify(rec normalize.Record) Verdict {
	tokens := tokenize(rec.Text)

	positive := c.score(tokens, rec.Text, c.lex.Positive)
	negative := c.score(tokens, rec.Text, c.lex.Negative)

	var (
		impact     news.Impact
		confidence int
	)
	switch {
	case positive > negative && positive > 5:
		impact = news.ImpactPositive
		confidence = min(positive*2, 100)
	case negative > positive && negative > 5:
		impact = news.ImpactNegative
		confidence = min(negative*2, 100)
	default:
		impact = news.ImpactNeutral
		diff := positive - negative
		if diff < 0 {
			diff = -diff
		}
		confidence = 40 + diff
	}

	return Verdict{
		Impact:     impact,
		Confidence: min(confidence, maxConfidence),
		Coins:      c.DetectCoins(rec.Text),
	}
}

// NeedsConfirmation reports whether the verdict must be confirmed by the
// inference stage: low confidence, or the text touches an escalation term
// (regulatory and security topics where the heuristic is unreliable).
func (c *Classifier) NeedsConfirmation(v Verdict, rec normalize.Record, threshold int) bool {
	if v.Confidence < threshold {
		return true
	}
	for _, term := range c.lex.Escalate {
		if strings.Contains(rec.Text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// DetectCoins returns the ticker symbols mentioned in the text, sorted.
func (c *Classifier) DetectCoins(text string) []string {
	coins := []string{}
	for _, t := range c.tickers {
		if t.pattern.MatchString(text) {
			coins = append(coins, t.symbol)
		}
	}
	return coins
}

// score sums term weights over the text. Single-word terms match whole
// tokens; multi-word terms match against the canonical text with word
// boundaries.
func (c *Classifier) score(tokens []string, text string, terms map[string]int) int {
	total := 0
	padded := " " + text + " "
	for term, weight := range terms {
		term = strings.ToLower(term)
		if strings.Contains(term, " ") {
			total += strings.Count(padded, " "+term+" ") * weight
			continue
		}
		for _, tok := range tokens {
			if tok == term {
				total += weight
			}
		}
	}
	return total
}

func tokenize(s string) []string {
	var tokens []string
	for _, word := range strings.Fields(s) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
