package vector

import (
	"fmt"
	"regexp"
	"sort"
)

// KeywordMatch is the result of matching a query against one candidate's
// keyword set.
type KeywordMatch struct {
	CandidateID     string
	Score           float64
	MatchedKeywords []string
}

type keywordPattern struct {
	keyword string
	re      *regexp.Regexp
}

// KeywordMatcher matches queries against per-candidate keyword lists using
// case-insensitive word-boundary patterns. Metacharacters in keywords are
// escaped, so "c++" matches literally rather than as a regex.
type KeywordMatcher struct {
	patterns map[string][]keywordPattern
}

// NewKeywordMatcher creates an empty matcher.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{
		patterns: make(map[string][]keywordPattern),
	}
}

// Add registers keywords for a candidate. Empty keywords are skipped.
// Calling Add twice for the same candidate appends.
func (m *KeywordMatcher) Add(candidateID string, keywords []string) error {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			return fmt.Errorf("keyword %q for %q: %w", kw, candidateID, err)
		}
		m.patterns[candidateID] = append(m.patterns[candidateID], keywordPattern{
			keyword: kw,
			re:      re,
		})
	}
	return nil
}

// Match scans the query once against every candidate's keywords. A candidate
// with at least one hit scores 1.0; additional hits accumulate into
// MatchedKeywords without raising the score. Results are sorted by candidate
// ID for deterministic output.
func (m *KeywordMatcher) Match(query string) []KeywordMatch {
	var matches []KeywordMatch
	for id, patterns := range m.patterns {
		var matched []string
		for _, p := range patterns {
			if p.re.MatchString(query) {
				matched = append(matched, p.keyword)
			}
		}
		if len(matched) == 0 {
			continue
		}
		matches = append(matches, KeywordMatch{
			CandidateID:     id,
			Score:           1.0,
			MatchedKeywords: matched,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CandidateID < matches[j].CandidateID
	})
	return matches
}

// MatchMap is Match keyed by candidate ID, for callers that join scores
// against another source.
func (m *KeywordMatcher) MatchMap(query string) map[string]KeywordMatch {
	out := make(map[string]KeywordMatch)
	for _, match := range m.Match(query) {
		out[match.CandidateID] = match
	}
	return out
}
