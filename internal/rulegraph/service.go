package rulegraph

import (
	"context"
	"errors"
	"strings"

	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/sentinel"
	"ruletrace/pkg/requestcontext"
)

// Service validates rules before they reach the store and translates store
// facts into coded domain errors.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// StoreRule validates and upserts a rule node. Timestamps are filled in when
// absent: created_at for fresh writes, updated_at always.
//
// Errors: CodeValidation for an invalid rule.
func (s *Service) StoreRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	stored, err := s.store.Upsert(ctx, rule)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store rule")
	}
	return stored, nil
}

// GetRule returns one rule version.
//
// Errors: CodeValidation for a malformed rule_id, CodeNotFound when absent.
func (s *Service) GetRule(ctx context.Context, rawRuleID string) (*Rule, error) {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return nil, err
	}
	rule, err := s.store.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found: "+ruleID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}
	return rule, nil
}

// Search returns rules matching the query, ranked by confidence then recency.
func (s *Service) Search(ctx context.Context, query SearchQuery) ([]*Rule, error) {
	rules, err := s.store.Search(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search rules")
	}
	return rules, nil
}

// SearchByConcept returns rules mentioning the concept.
func (s *Service) SearchByConcept(ctx context.Context, concept string, limit int) ([]*Rule, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "concept is required")
	}
	return s.Search(ctx, SearchQuery{Concepts: []string{concept}, Limit: limit})
}

// SemanticSearch is the token-overlap fallback over the whole graph. Results
// are suggestions only.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "query is required")
	}
	rules, err := s.store.All(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan rules")
	}
	return SemanticRank(rules, query, limit), nil
}

// RulesBySourceCase follows the reverse derivation edge.
func (s *Service) RulesBySourceCase(ctx context.Context, rawCaseID string) ([]*Rule, error) {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.RulesBySourceCase(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rules by source case")
	}
	return rules, nil
}

// VersionHistory returns every version in the rule's lineage, ascending.
//
// Errors: CodeNotFound when the lineage is empty.
func (s *Service) VersionHistory(ctx context.Context, rawRuleID string) ([]*Rule, error) {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.VersionHistory(ctx, ruleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read version history")
	}
	if len(history) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no versions found for rule lineage: "+ruleID.Base().String())
	}
	return history, nil
}

// DeleteRule removes one rule version.
//
// Errors: CodeNotFound when nothing was removed.
func (s *Service) DeleteRule(ctx context.Context, rawRuleID string) error {
	ruleID, err := id.ParseRuleID(rawRuleID)
	if err != nil {
		return err
	}
	removed, err := s.store.Delete(ctx, ruleID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete rule")
	}
	if !removed {
		return dErrors.New(dErrors.CodeNotFound, "rule not found: "+ruleID.String())
	}
	return nil
}
