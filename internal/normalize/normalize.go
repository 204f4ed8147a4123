package normalize

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
)

// ErrEmptyItem is returned when an item has neither title nor summary.
var ErrEmptyItem = errors.New("news item has empty title and summary")

// Record is the canonical working form of a news item used by the
// classification stages.
type Record struct {
	Title   string
	Summary string
	Lang    string
	// Text is the lower-cased, whitespace-collapsed title+summary used for
	// keyword matching.
	Text string
}

var arabicScript = regexp.MustCompile(`[\x{0600}-\x{06FF}]`)

// DetectLang returns "ar" for text containing Arabic script, "en" otherwise.
func DetectLang(text string) string {
	if arabicScript.MatchString(text) {
		return "ar"
	}
	return "en"
}

// Normalize canonicalizes an item into its cache key and working record.
// The key depends only on the semantic text content: identical items that
// differ in case or surrounding whitespace map to the same key.
func Normalize(item news.Item) (string, Record, error) {
	title := strings.TrimSpace(item.Title)
	summary := strings.TrimSpace(item.Summary)
	if title == "" && summary == "" {
		return "", Record{}, ErrEmptyItem
	}

	text := canonicalize(title + " " + summary)

	lang := item.Lang
	if lang == "" {
		lang = DetectLang(title + " " + summary)
	}

	rec := Record{
		Title:   title,
		Summary: summary,
		Lang:    lang,
		Text:    text,
	}
	return key(text), rec, nil
}

// canonicalize lower-cases and collapses all runs of whitespace to a single
// space.
func canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func key(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("news:%x", h[:16])
}
