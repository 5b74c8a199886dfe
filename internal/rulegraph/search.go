package rulegraph

import (
	"regexp"
	"sort"
	"strings"
)

// SemanticMatch pairs a rule with its token-overlap score against a query.
type SemanticMatch struct {
	Rule  *Rule   `json:"rule"`
	Score float64 `json:"score"`
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lower-cases the text and extracts alphanumeric runs.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[token] = struct{}{}
	}
	return tokens
}

// SemanticRank is the best-effort fallback when structured search finds
// nothing: it scores each rule by the fraction of query tokens appearing in
// its text or concepts. Results are suggestions, never authoritative; zero
// scores are dropped.
func SemanticRank(rules []*Rule, query string, limit int) []SemanticMatch {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	matches := make([]SemanticMatch, 0)
	for _, rule := range rules {
		corpus := tokenize(rule.RuleText + " " + strings.Join(rule.RelatedConcepts, " "))
		overlap := 0
		for token := range queryTokens {
			if _, ok := corpus[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, SemanticMatch{
			Rule:  rule,
			Score: float64(overlap) / float64(len(queryTokens)),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Rule.ConfidenceScore != matches[j].Rule.ConfidenceScore {
			return matches[i].Rule.ConfidenceScore > matches[j].Rule.ConfidenceScore
		}
		return matches[i].Rule.RuleID < matches[j].Rule.RuleID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
