package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon holds the term lists the pattern extractor matches against.
// Keys mirror the pattern types they produce.
type Lexicon struct {
	SubjectKeywords   []string `yaml:"subject_keyword"`
	SubjectPatterns   []string `yaml:"subject_pattern"`
	ContentIndicators []string `yaml:"content_indicator"`
}

// LoadLexicon reads path, or the embedded default when path is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	data := defaultLexicon
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read lexicon %s: %w", path, err)
		}
		data = b
	}
	return ParseLexicon(data)
}

// DefaultLexicon returns the embedded lexicon. It panics if the embedded file is broken.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(defaultLexicon)
	if err != nil {
		panic(err)
	}
	return lex
}

// ParseLexicon decodes YAML and normalizes every term to trimmed lowercase.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	lex.SubjectKeywords = normalizeTerms(lex.SubjectKeywords)
	lex.SubjectPatterns = normalizeTerms(lex.SubjectPatterns)
	lex.ContentIndicators = normalizeTerms(lex.ContentIndicators)
	if len(lex.SubjectKeywords)+len(lex.SubjectPatterns)+len(lex.ContentIndicators) == 0 {
		return nil, fmt.Errorf("lexicon has no terms")
	}
	return &lex, nil
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
