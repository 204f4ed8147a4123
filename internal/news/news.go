package news

// Impact is the coarse market sentiment assessment for a news item.
type Impact string

const (
	ImpactPositive Impact = "Positive"
	ImpactNegative Impact = "Negative"
	ImpactNeutral  Impact = "Neutral"
)

// ParseImpact maps a free-form impact string to an Impact, defaulting to Neutral.
func ParseImpact(s string) Impact {
	switch s {
	case string(ImpactPositive):
		return ImpactPositive
	case string(ImpactNegative):
		return ImpactNegative
	default:
		return ImpactNeutral
	}
}

// Item is a single news item submitted for analysis. Lang is an optional
// opaque language tag; when empty it is detected from the text.
type Item struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Lang    string `json:"lang,omitempty"`
}

// Result is the analysis verdict for one item. Every item submitted gets a
// structurally complete Result: on failure the fields hold best-effort
// defaults and Error carries a short tag.
type Result struct {
	Impact        Impact   `json:"impact"`
	Confidence    int      `json:"confidence"`
	AffectedCoins []string `json:"affected_coins"`
	Summary       string   `json:"summary"`
	Lang          string   `json:"lang"`
	LowConfidence bool     `json:"low_confidence"`
	Error         string   `json:"error,omitempty"`
}

// Degraded returns a neutral zero-confidence Result tagged with the given
// error, used when an item cannot be analyzed at all.
func Degraded(lang, errTag string) Result {
	if lang == "" {
		lang = "en"
	}
	return Result{
		Impact:        ImpactNeutral,
		Confidence:    0,
		AffectedCoins: []string{},
		Summary:       "Analysis failed",
		Lang:          lang,
		LowConfidence: true,
		Error:         errTag,
	}
}
