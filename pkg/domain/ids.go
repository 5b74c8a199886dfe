// Package domain defines the identifier grammar shared by the working-memory
// and rule-graph tiers. Identifiers are parsed at trust boundaries; direct
// casting bypasses validation.
//
// Case IDs follow {domain}_{requirement}_{concept}: at least three
// underscore-delimited segments, with a requirement segment matching r<digits>
// (case-insensitive).
//
// Rule IDs follow {POLICY}_{concept}_{version}: at least three segments, an
// uppercase alphanumeric policy prefix and a trailing positive-integer
// version segment.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	dErrors "ruletrace/pkg/domain-errors"
)

// maxIDLength bounds identifier size at trust boundaries. Anything longer is
// malformed input, not a real identifier.
const maxIDLength = 128

// maxConceptLength caps the key-concept segment when deriving rule IDs from
// candidate rules.
const maxConceptLength = 20

var (
	caseIDPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]*_[rR]\d+_[a-z][a-z0-9_]*$`)
	requirementPattern = regexp.MustCompile(`^[rR]\d+$`)
	policyPattern      = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)
	segmentPattern     = regexp.MustCompile(`^[a-z0-9]+$`)
	conceptCleaner     = regexp.MustCompile(`[^a-z0-9_]`)
	policyCleaner      = regexp.MustCompile(`[^A-Z0-9]`)
	underscoreRuns     = regexp.MustCompile(`_+`)
)

// CaseID identifies one compliance-requirement assessment instance in
// working memory.
type CaseID string

// RuleID identifies one version of a generalized rule in the rule graph.
type RuleID string

// ParseCaseID constructs a CaseID from external input.
//
// Errors: CodeValidation when the value is empty, oversized, has fewer than
// three segments, or lacks a requirement segment; no other errors are expected.
func ParseCaseID(s string) (CaseID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "case_id cannot be empty")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeValidation, "case_id exceeds maximum length")
	}
	segments := strings.Split(s, "_")
	if len(segments) < 3 {
		return "", dErrors.New(dErrors.CodeValidation, "case_id must follow {domain}_{requirement}_{concept} with at least 3 segments")
	}
	for _, seg := range segments {
		if seg == "" {
			return "", dErrors.New(dErrors.CodeValidation, "case_id contains an empty segment")
		}
	}
	if !caseIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "case_id is malformed: lowercase alphanumeric segments required")
	}
	if !hasRequirementSegment(segments) {
		return "", dErrors.New(dErrors.CodeValidation, "case_id requirement segment must match r<number>")
	}
	return CaseID(s), nil
}

// hasRequirementSegment checks the interior segments for r<digits>. The first
// segment is the domain and the last is the concept, so neither qualifies.
func hasRequirementSegment(segments []string) bool {
	for _, seg := range segments[1 : len(segments)-1] {
		if requirementPattern.MatchString(seg) {
			return true
		}
	}
	return false
}

func (c CaseID) String() string { return string(c) }

// Domain returns the first segment of the case ID.
func (c CaseID) Domain() string {
	return strings.SplitN(string(c), "_", 2)[0]
}

// ParseRuleID constructs a RuleID from external input.
//
// Errors: CodeValidation when the value is empty, oversized, has fewer than
// three segments, a non-uppercase policy prefix, or a trailing segment that
// is not a positive integer.
func ParseRuleID(s string) (RuleID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id cannot be empty")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id exceeds maximum length")
	}
	segments := strings.Split(s, "_")
	if len(segments) < 3 {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id must follow {POLICY}_{concept}_{version} with at least 3 segments")
	}
	for _, seg := range segments {
		if seg == "" {
			return "", dErrors.New(dErrors.CodeValidation, "rule_id contains an empty segment")
		}
	}
	if !policyPattern.MatchString(segments[0]) {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id policy prefix must be uppercase alphanumeric")
	}
	version, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil || version < 1 {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id version suffix must be a positive integer")
	}
	for _, seg := range segments[1 : len(segments)-1] {
		if !segmentPattern.MatchString(seg) {
			return "", dErrors.New(dErrors.CodeValidation, "rule_id concept segments must be lowercase alphanumeric")
		}
	}
	return RuleID(s), nil
}

func (r RuleID) String() string { return string(r) }

// Policy returns the governing policy, derived deterministically from the
// first segment of the rule ID.
func (r RuleID) Policy() string {
	return strings.SplitN(string(r), "_", 2)[0]
}

// Version parses the trailing version segment. Returns 0 for a malformed ID.
func (r RuleID) Version() int {
	segments := strings.Split(string(r), "_")
	if len(segments) == 0 {
		return 0
	}
	v, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil {
		return 0
	}
	return v
}

// Base strips the trailing version segment so all versions of one rule
// lineage share a prefix. A rule ID without a numeric suffix is its own base.
func (r RuleID) Base() RuleID {
	segments := strings.Split(string(r), "_")
	last := segments[len(segments)-1]
	if _, err := strconv.Atoi(last); err != nil {
		return r
	}
	return RuleID(strings.Join(segments[:len(segments)-1], "_"))
}

// NextVersionID renders the rule ID for a new version in the lineage of base,
// with the zero-padded version suffix.
func NextVersionID(base RuleID, version int) RuleID {
	return RuleID(fmt.Sprintf("%s_%02d", base.Base(), version))
}

// DeriveRuleID builds the first-version rule ID for a candidate rule:
// {POLICY}_{key_concept}_01, where the key concept is lower-cased, truncated
// to 20 characters, and reduced to alphanumerics plus underscores.
func DeriveRuleID(policyArea, keyConcept string) (RuleID, error) {
	policy := policyCleaner.ReplaceAllString(strings.ToUpper(strings.TrimSpace(policyArea)), "")
	if policy == "" {
		return "", dErrors.New(dErrors.CodeValidation, "policy_area is required to derive a rule_id")
	}

	concept := CleanConcept(keyConcept)
	if concept == "" {
		return "", dErrors.New(dErrors.CodeValidation, "a non-empty key concept is required to derive a rule_id")
	}

	return ParseRuleID(fmt.Sprintf("%s_%s_01", policy, concept))
}

// CleanConcept normalizes a free-text concept into an identifier segment:
// lower-cased, spaces and hyphens collapsed to underscores, other characters
// dropped, truncated to the concept length cap.
func CleanConcept(concept string) string {
	cleaned := strings.ToLower(strings.TrimSpace(concept))
	cleaned = strings.NewReplacer(" ", "_", "-", "_").Replace(cleaned)
	cleaned = conceptCleaner.ReplaceAllString(cleaned, "")
	cleaned = underscoreRuns.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > maxConceptLength {
		cleaned = strings.TrimRight(cleaned[:maxConceptLength], "_")
	}
	return cleaned
}
