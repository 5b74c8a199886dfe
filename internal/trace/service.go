// Package trace links the two memory tiers: it derives durable rules from
// ephemeral case entries and keeps the derivation record navigable in both
// directions.
package trace

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ruletrace/internal/audit"
	"ruletrace/internal/rulegraph"
	"ruletrace/internal/trace/metrics"
	"ruletrace/internal/workingmem"
	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/sentinel"
	"ruletrace/pkg/requestcontext"
)

// WorkingMemory is the slice of the working-memory store the traceability
// service consumes.
type WorkingMemory interface {
	Get(ctx context.Context, caseID id.CaseID) (*workingmem.CaseEntry, error)
	List(ctx context.Context, filter workingmem.Filter) ([]*workingmem.CaseEntry, error)
	AddRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) error
	RemoveRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) (bool, error)
	RuleLinks(ctx context.Context, caseID id.CaseID) ([]id.RuleID, error)
}

// RuleGraph is the slice of the rule-graph store the traceability service
// consumes.
type RuleGraph interface {
	Upsert(ctx context.Context, rule *rulegraph.Rule) (*rulegraph.Rule, error)
	Get(ctx context.Context, ruleID id.RuleID) (*rulegraph.Rule, error)
	RulesBySourceCase(ctx context.Context, caseID id.CaseID) ([]*rulegraph.Rule, error)
	VersionHistory(ctx context.Context, ruleID id.RuleID) ([]*rulegraph.Rule, error)
	MaxVersion(ctx context.Context, ruleID id.RuleID) (int, error)
	All(ctx context.Context) ([]*rulegraph.Rule, error)
}

// Recorder receives one audit event per traceability mutation.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// Service orchestrates cross-tier traceability. The rule graph is the source
// of truth for derivation edges; the working-memory link set is a cache whose
// staleness is bounded by the entry TTL.
type Service struct {
	wm       WorkingMemory
	graph    RuleGraph
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(wm WorkingMemory, graph RuleGraph, recorder Recorder, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{wm: wm, graph: graph, recorder: recorder, metrics: m, logger: logger}
}

// CandidateRule is the generalized rule proposed from a case, before it has
// an identity in the graph.
type CandidateRule struct {
	RuleText        string   `json:"rule_text"`
	RelatedConcepts []string `json:"related_concepts"`
	PolicyArea      string   `json:"policy_area"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Validate checks the candidate before derivation.
func (c CandidateRule) Validate() error {
	if strings.TrimSpace(c.RuleText) == "" {
		return dErrors.New(dErrors.CodeValidation, "rule_text is required")
	}
	if strings.TrimSpace(c.PolicyArea) == "" {
		return dErrors.New(dErrors.CodeValidation, "policy_area is required")
	}
	if len(c.RelatedConcepts) < 2 {
		return dErrors.New(dErrors.CodeValidation, "related_concepts requires at least 2 concepts")
	}
	if c.ConfidenceScore < 0 || c.ConfidenceScore > 1 {
		return dErrors.New(dErrors.CodeValidation, "confidence_score must be within [0, 1]")
	}
	return nil
}

// LinkResult reports a cross-tier mutation. LinkedInWorkingMemory is false
// when the graph write landed but the case expired before the cache-side link
// could be recorded; the graph stays authoritative either way.
type LinkResult struct {
	Rule                  *rulegraph.Rule `json:"rule"`
	CaseID                id.CaseID       `json:"case_id"`
	LinkedInWorkingMemory bool            `json:"linked_in_working_memory"`
}

// CreateRuleFromCase derives a first-version rule from a live case entry.
// The rule ID is {POLICY}_{key_concept}_01 with the key concept taken from
// the first related concept. The graph write happens first; concurrent
// derivations of the same rule ID converge through the upsert merge.
//
// Errors: CodeValidation for a malformed case_id or candidate, CodeNotFound
// when the case is absent or expired.
func (s *Service) CreateRuleFromCase(ctx context.Context, rawCaseID string, candidate CandidateRule) (*LinkResult, error) {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return nil, err
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.wm.Get(ctx, caseID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case entry not found: "+caseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
	}

	ruleID, err := id.DeriveRuleID(candidate.PolicyArea, candidate.RelatedConcepts[0])
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	rule := &rulegraph.Rule{
		RuleID:          ruleID,
		RuleText:        candidate.RuleText,
		RelatedConcepts: candidate.RelatedConcepts,
		SourceCases:     []id.CaseID{caseID},
		ConfidenceScore: candidate.ConfidenceScore,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.graph.Upsert(ctx, rule)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store rule")
	}

	result := &LinkResult{Rule: stored, CaseID: caseID, LinkedInWorkingMemory: true}
	if err := s.linkCache(ctx, caseID, stored.RuleID); err != nil {
		result.LinkedInWorkingMemory = false
	}

	s.metrics.IncrementRulesCreated(stored.Policy())
	s.metrics.IncrementLinkOperation("created")
	s.record(ctx, audit.Event{
		Action: audit.ActionRuleCreated,
		RuleID: stored.RuleID,
		CaseID: caseID,
	})
	return result, nil
}

// LinkExistingRuleToCase records that an already-stored rule also derives
// from the case: the case joins the rule's source set and the cache-side link
// is refreshed.
//
// Errors: CodeNotFound when either the rule or the case is absent.
func (s *Service) LinkExistingRuleToCase(ctx context.Context, rawRuleID, rawCaseID string) (*LinkResult, error) {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return nil, err
	}
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return nil, err
	}

	rule, err := s.graph.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found: "+ruleID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}
	if _, err := s.wm.Get(ctx, caseID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case entry not found: "+caseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
	}

	rule.SourceCases = append(rule.SourceCases, caseID)
	rule.UpdatedAt = requestcontext.Now(ctx)
	stored, err := s.graph.Upsert(ctx, rule)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link rule to case")
	}

	result := &LinkResult{Rule: stored, CaseID: caseID, LinkedInWorkingMemory: true}
	if err := s.linkCache(ctx, caseID, stored.RuleID); err != nil {
		result.LinkedInWorkingMemory = false
	}

	s.metrics.IncrementLinkOperation("created")
	s.record(ctx, audit.Event{
		Action: audit.ActionRuleLinked,
		RuleID: stored.RuleID,
		CaseID: caseID,
	})
	return result, nil
}

// linkCache refreshes the working-memory side of a derivation edge. The case
// can expire between the graph write and this call; the resulting skew is
// logged and left for the integrity scan.
func (s *Service) linkCache(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) error {
	if err := s.wm.AddRuleLink(ctx, caseID, ruleID); err != nil {
		s.logger.WarnContext(ctx, "graph link recorded but working-memory link failed",
			"request_id", requestcontext.RequestID(ctx),
			"case_id", caseID.String(),
			"rule_id", ruleID.String(),
			"error", err.Error(),
		)
		return err
	}
	return nil
}

// CaseRules is the forward navigation result: every rule derived from a case.
type CaseRules struct {
	CaseID              id.CaseID         `json:"case_id"`
	Rules               []*rulegraph.Rule `json:"rules"`
	Count               int               `json:"count"`
	CaseInWorkingMemory bool              `json:"case_in_working_memory"`
}

// NavigateCaseToRules answers "which rules came from this case" from the
// graph's reverse edge. The working-memory link set is never consulted for
// the answer, only reported on, so an expired cache cannot hide rules.
func (s *Service) NavigateCaseToRules(ctx context.Context, rawCaseID string) (*CaseRules, error) {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return nil, err
	}

	rules, err := s.graph.RulesBySourceCase(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rules by source case")
	}

	inWM := true
	if _, err := s.wm.Get(ctx, caseID); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
		}
		inWM = false
	}

	return &CaseRules{CaseID: caseID, Rules: rules, Count: len(rules), CaseInWorkingMemory: inWM}, nil
}

// RuleCases is the backward navigation result. Source cases that have expired
// out of working memory are named rather than silently dropped.
type RuleCases struct {
	RuleID         id.RuleID               `json:"rule_id"`
	AvailableCases []*workingmem.CaseEntry `json:"available_cases"`
	MissingCases   []id.CaseID             `json:"missing_cases"`
	MissingCount   int                     `json:"missing_count"`
}

// NavigateRuleToCases resolves a rule's source set against working memory.
//
// Errors: CodeNotFound when the rule is absent.
func (s *Service) NavigateRuleToCases(ctx context.Context, rawRuleID string) (*RuleCases, error) {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return nil, err
	}
	rule, err := s.graph.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found: "+ruleID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}

	result := &RuleCases{
		RuleID:         ruleID,
		AvailableCases: []*workingmem.CaseEntry{},
		MissingCases:   []id.CaseID{},
	}
	for _, caseID := range rule.SourceCases {
		entry, err := s.wm.Get(ctx, caseID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				result.MissingCases = append(result.MissingCases, caseID)
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
		}
		result.AvailableCases = append(result.AvailableCases, entry)
	}
	result.MissingCount = len(result.MissingCases)
	return result, nil
}

// VersionUpdate carries the revised content for a new rule version. Zero
// fields inherit from the version being revised. NewSourceCase, when set,
// must name a live case entry and is linked bidirectionally.
type VersionUpdate struct {
	RuleText        string   `json:"rule_text"`
	RelatedConcepts []string `json:"related_concepts"`
	ConfidenceScore *float64 `json:"confidence_score"`
	NewSourceCase   string   `json:"new_source_case"`
}

// CreateVersion allocates the next version in a rule's lineage as a fresh
// node; prior versions are retained untouched. The version number is
// max(existing)+1 regardless of which version the caller named.
//
// Errors: CodeNotFound when the named version is absent.
func (s *Service) CreateVersion(ctx context.Context, rawRuleID string, update VersionUpdate) (*LinkResult, error) {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return nil, err
	}
	current, err := s.graph.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found: "+ruleID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}

	var newCase id.CaseID
	if update.NewSourceCase != "" {
		newCase, err = id.ParseCaseID(update.NewSourceCase)
		if err != nil {
			return nil, err
		}
		if _, err := s.wm.Get(ctx, newCase); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "case entry not found: "+newCase.String())
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
		}
	}

	max, err := s.graph.MaxVersion(ctx, ruleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read version lineage")
	}

	now := requestcontext.Now(ctx)
	next := &rulegraph.Rule{
		RuleID:          id.NextVersionID(ruleID, max+1),
		RuleText:        current.RuleText,
		RelatedConcepts: append([]string{}, current.RelatedConcepts...),
		SourceCases:     append([]id.CaseID{}, current.SourceCases...),
		ConfidenceScore: current.ConfidenceScore,
		Version:         max + 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if strings.TrimSpace(update.RuleText) != "" {
		next.RuleText = update.RuleText
	}
	if len(update.RelatedConcepts) > 0 {
		next.RelatedConcepts = update.RelatedConcepts
	}
	if update.ConfidenceScore != nil {
		next.ConfidenceScore = *update.ConfidenceScore
	}
	if newCase != "" {
		next.SourceCases = append(next.SourceCases, newCase)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.graph.Upsert(ctx, next)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store rule version")
	}

	result := &LinkResult{Rule: stored, LinkedInWorkingMemory: true}
	if newCase != "" {
		result.CaseID = newCase
		if err := s.linkCache(ctx, newCase, stored.RuleID); err != nil {
			result.LinkedInWorkingMemory = false
		}
	}

	s.record(ctx, audit.Event{
		Action: audit.ActionRuleVersionCreated,
		RuleID: stored.RuleID,
		CaseID: newCase,
		Detail: "revised from " + ruleID.String(),
	})
	return result, nil
}

// record persists the audit event; a sink failure must not fail the mutation
// it describes.
func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit event",
			"request_id", requestcontext.RequestID(ctx),
			"action", string(event.Action),
			"error", err.Error(),
		)
	}
}
