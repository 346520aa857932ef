package pattern

import (
	"sort"
	"strings"

	"phishnot_server/core/domain"
)

// Lexicon is the term data the extractor matches. Terms are lowercase.
type Lexicon struct {
	SubjectKeywords   []string
	SubjectPatterns   []string
	ContentIndicators []string
}

type rule struct {
	patternType domain.PatternType
	terms       []string
	field       func(rec *domain.ClassificationRecord) string
}

// Extractor derives pattern candidates from a classification. Matching is a
// lowercase substring test; there is no branching per term.
type Extractor struct {
	rules []rule
}

// NewExtractor builds the rule table from lex.
func NewExtractor(lex Lexicon) *Extractor {
	subject := func(rec *domain.ClassificationRecord) string { return rec.Subject }
	body := func(rec *domain.ClassificationRecord) string { return rec.BodyExcerpt }
	return &Extractor{rules: []rule{
		{domain.PatternSubjectKeyword, lowerAll(lex.SubjectKeywords), subject},
		{domain.PatternSubjectPattern, lowerAll(lex.SubjectPatterns), subject},
		{domain.PatternContentIndicator, lowerAll(lex.ContentIndicators), body},
	}}
}

// Extract returns the record's candidates sorted by (type, value), without
// duplicates. The result does not depend on lexicon order.
//
// Only the classified email is scanned. The feedback event is not an input:
// every rule reads the sender, subject or body, and the user's reason text is
// free-form input that must not mint new pattern keys.
func (e *Extractor) Extract(rec *domain.ClassificationRecord) []domain.PatternCandidate {
	seen := map[domain.PatternKey]struct{}{}
	var out []domain.PatternCandidate
	add := func(k domain.PatternKey) {
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	if d := strings.ToLower(strings.TrimSpace(rec.SenderDomain)); d != "" {
		add(domain.PatternKey{Type: domain.PatternSenderDomain, Value: d})
	}
	for _, r := range e.rules {
		text := strings.ToLower(r.field(rec))
		if text == "" {
			continue
		}
		for _, term := range r.terms {
			if strings.Contains(text, term) {
				add(domain.PatternKey{Type: r.patternType, Value: term})
			}
		}
	}

	SortKeys(out)
	return out
}

// SortKeys orders keys by type then value. Writers apply updates in this
// order so concurrent transactions lock rows consistently.
func SortKeys(keys []domain.PatternKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Value < keys[j].Value
	})
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
