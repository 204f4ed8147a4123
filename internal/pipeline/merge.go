package pipeline

import (
	"fmt"

	"github.com/KaayaanAi/mcp-crypto-news/internal/inference"
	"github.com/KaayaanAi/mcp-crypto-news/internal/keyword"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
)

// keywordConfidenceCap limits how confident a keyword-only result can claim
// to be; full confidence is reserved for confirmed verdicts.
const keywordConfidenceCap = 75

// errInferenceUnavailable is the error tag attached to fallback results.
const errInferenceUnavailable = "inference_unavailable"

// merge produces the final result for one item. With a nil outcome the
// keyword verdict was accepted as-is; with a failed outcome the keyword
// verdict serves as the degraded fallback; otherwise the confirmed judgment
// takes precedence.
func merge(rec normalize.Record, prelim keyword.Verdict, outcome *inference.Outcome, threshold int) news.Result {
	if outcome == nil {
		return keywordResult(rec, prelim, false, "")
	}
	if outcome.Err != nil {
		return keywordResult(rec, prelim, true, errInferenceUnavailable)
	}

	j := outcome.Judgment
	coins := prelim.Coins
	if len(coins) == 0 {
		coins = j.AffectedCoins
	}
	if coins == nil {
		coins = []string{}
	}
	return news.Result{
		Impact:        j.Impact,
		Confidence:    j.Confidence,
		AffectedCoins: coins,
		Summary:       j.Summary,
		Lang:          rec.Lang,
		LowConfidence: j.Confidence < threshold,
	}
}

func keywordResult(rec normalize.Record, v keyword.Verdict, low bool, errTag string) news.Result {
	coins := v.Coins
	if coins == nil {
		coins = []string{}
	}
	confidence := v.Confidence
	if confidence > keywordConfidenceCap {
		confidence = keywordConfidenceCap
	}
	return news.Result{
		Impact:        v.Impact,
		Confidence:    confidence,
		AffectedCoins: coins,
		Summary:       fallbackSummary(rec.Title, v.Impact, confidence, rec.Lang),
		Lang:          rec.Lang,
		LowConfidence: low,
		Error:         errTag,
	}
}

// fallbackSummary builds the short broadcast line used when no confirmed
// summary is available.
func fallbackSummary(title string, impact news.Impact, confidence int, lang string) string {
	short := title
	if len([]rune(short)) > 80 {
		short = string([]rune(short)[:80]) + "..."
	}

	level := "Low"
	switch {
	case confidence > 75:
		level = "High"
	case confidence > 50:
		level = "Medium"
	}

	if lang == "ar" {
		return fmt.Sprintf("%s - تأثير %s (%s ثقة)", short, impact, level)
	}
	return fmt.Sprintf("%s - %s impact (%s confidence)", short, impact, level)
}
