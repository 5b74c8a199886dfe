// Package rulegraph holds the durable tier of the assessment memory: a graph
// of generalized rules linked to the concepts they mention, the policy that
// governs them, and the source cases they were derived from.
package rulegraph

import (
	"strings"
	"time"

	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	pstrings "ruletrace/pkg/platform/strings"
)

// Rule is one versioned rule node plus its outgoing edges. The policy area is
// always derivable from the ID's first segment; storing it separately would
// invite disagreement, so Policy() is the only accessor.
type Rule struct {
	RuleID          id.RuleID   `json:"rule_id"`
	RuleText        string      `json:"rule_text"`
	RelatedConcepts []string    `json:"related_concepts"`
	SourceCases     []id.CaseID `json:"source_case_ids"`
	ConfidenceScore float64     `json:"confidence_score"`
	Version         int         `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Policy returns the governing policy area, derived from the rule ID.
func (r *Rule) Policy() string {
	return r.RuleID.Policy()
}

// Normalize canonicalizes the relationship sets before persistence:
// concepts lower-cased and deduplicated, source cases deduplicated.
func (r *Rule) Normalize() {
	r.RelatedConcepts = pstrings.DedupeAndTrimLower(r.RelatedConcepts)
	cases := make([]string, 0, len(r.SourceCases))
	for _, c := range r.SourceCases {
		cases = append(cases, c.String())
	}
	deduped := pstrings.DedupeAndTrim(cases)
	r.SourceCases = r.SourceCases[:0]
	for _, c := range deduped {
		r.SourceCases = append(r.SourceCases, id.CaseID(c))
	}
}

// Validate checks the rule against the data model invariants. Storage rejects
// invalid rules before any write.
func (r *Rule) Validate() error {
	ruleID, err := id.ParseRuleID(r.RuleID.String())
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.RuleText) == "" {
		return dErrors.New(dErrors.CodeValidation, "rule_text is required")
	}
	if len(pstrings.DedupeAndTrimLower(r.RelatedConcepts)) < 2 {
		return dErrors.New(dErrors.CodeValidation, "related_concepts requires at least 2 distinct concepts")
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return dErrors.New(dErrors.CodeValidation, "confidence_score must be within [0, 1]")
	}
	if r.Version < 1 {
		return dErrors.New(dErrors.CodeValidation, "version must be a positive integer")
	}
	if r.Version != ruleID.Version() {
		return dErrors.New(dErrors.CodeValidation, "version must match the rule_id version suffix")
	}
	for _, caseID := range r.SourceCases {
		if _, err := id.ParseCaseID(caseID.String()); err != nil {
			return dErrors.New(dErrors.CodeValidation, "source_case_ids contains a malformed case_id: "+caseID.String())
		}
	}
	return nil
}

// HasConcept reports whether the rule mentions the concept (case-insensitive).
func (r *Rule) HasConcept(concept string) bool {
	concept = strings.ToLower(strings.TrimSpace(concept))
	for _, c := range r.RelatedConcepts {
		if strings.ToLower(c) == concept {
			return true
		}
	}
	return false
}

// HasSourceCase reports whether the rule was derived from the case.
func (r *Rule) HasSourceCase(caseID id.CaseID) bool {
	for _, c := range r.SourceCases {
		if c == caseID {
			return true
		}
	}
	return false
}

// SearchQuery narrows and ranks Search results. Zero value matches everything.
type SearchQuery struct {
	// Concepts keeps rules mentioning at least one of these concepts.
	Concepts []string
	// Keywords keeps rules whose text contains every keyword (case-insensitive).
	Keywords []string
	// Policy keeps rules governed by this policy area.
	Policy string
	// Limit caps the result count; 0 means no cap.
	Limit int
}

// Matches reports whether the rule passes the query's filters.
func (q SearchQuery) Matches(r *Rule) bool {
	if q.Policy != "" && !strings.EqualFold(r.Policy(), q.Policy) {
		return false
	}
	if len(q.Concepts) > 0 {
		hit := false
		for _, concept := range q.Concepts {
			if r.HasConcept(concept) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	text := strings.ToLower(r.RuleText)
	for _, keyword := range q.Keywords {
		if !strings.Contains(text, strings.ToLower(strings.TrimSpace(keyword))) {
			return false
		}
	}
	return true
}
