// Package lexicon holds the sentiment term tables used by the keyword
// classifier. The tables are data, not code: the embedded defaults can be
// replaced by a user-supplied YAML file so weights evolve without a rebuild.
package lexicon

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_lexicon.yaml
var defaultLexiconFS embed.FS

// Lexicon maps sentiment-bearing terms to weights and coin tickers to their
// textual aliases. Escalate lists terms whose presence always forces
// inference confirmation regardless of keyword confidence.
type Lexicon struct {
	Positive map[string]int      `yaml:"positive"`
	Negative map[string]int      `yaml:"negative"`
	Tickers  map[string][]string `yaml:"tickers"`
	Escalate []string            `yaml:"escalate"`
}

// Default returns the embedded lexicon.
func Default() (*Lexicon, error) {
	data, err := defaultLexiconFS.ReadFile("default_lexicon.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded lexicon: %w", err)
	}
	return parse(data)
}

// Load reads a lexicon from a YAML file. An empty path loads the embedded
// defaults.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon: %w", err)
	}
	lex, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing lexicon %s: %w", path, err)
	}
	return lex, nil
}

func parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parsing lexicon: %w", err)
	}
	if err := validate(&lex); err != nil {
		return nil, err
	}
	return &lex, nil
}

func validate(lex *Lexicon) error {
	if len(lex.Positive) == 0 && len(lex.Negative) == 0 {
		return fmt.Errorf("lexicon has no sentiment terms")
	}
	for term, w := range lex.Positive {
		if w <= 0 {
			return fmt.Errorf("positive term %q: weight must be positive, got %d", term, w)
		}
	}
	for term, w := range lex.Negative {
		if w <= 0 {
			return fmt.Errorf("negative term %q: weight must be positive, got %d", term, w)
		}
	}
	for ticker, aliases := range lex.Tickers {
		if len(aliases) == 0 {
			return fmt.Errorf("ticker %q: at least one alias required", ticker)
		}
	}
	return nil
}
