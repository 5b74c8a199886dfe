package rulegraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/requestcontext"
)

type GraphServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	service *Service
}

func TestGraphServiceSuite(t *testing.T) {
	suite.Run(t, new(GraphServiceSuite))
}

func (s *GraphServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.service = NewService(NewInMemoryStore())
}

func (s *GraphServiceSuite) storeConsentRule() *Rule {
	stored, err := s.service.StoreRule(s.ctx, &Rule{
		RuleID:          "GDPR_consent_01",
		RuleText:        "Explicit consent must precede any data processing.",
		RelatedConcepts: []string{"consent", "data processing"},
		SourceCases:     []id.CaseID{"ecommerce_r1_consent"},
		ConfidenceScore: 0.8,
		Version:         1,
	})
	s.Require().NoError(err)
	return stored
}

func (s *GraphServiceSuite) TestStoreRule() {
	s.Run("fills timestamps from the request clock", func() {
		stored := s.storeConsentRule()
		s.True(stored.CreatedAt.Equal(s.now))
		s.True(stored.UpdatedAt.Equal(s.now))
	})

	s.Run("rejects an invalid rule before any store call", func() {
		_, err := s.service.StoreRule(s.ctx, &Rule{
			RuleID:          "GDPR_consent_01",
			RuleText:        "text",
			RelatedConcepts: []string{"only one"},
			ConfidenceScore: 0.5,
			Version:         1,
		})
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *GraphServiceSuite) TestGetRule() {
	s.storeConsentRule()

	rule, err := s.service.GetRule(s.ctx, "GDPR_consent_01")
	s.Require().NoError(err)
	s.Equal("GDPR", rule.Policy())

	_, err = s.service.GetRule(s.ctx, "CCPA_optout_01")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	_, err = s.service.GetRule(s.ctx, "not-a-rule-id")
	s.True(dErrors.Is(err, dErrors.CodeValidation))
}

func (s *GraphServiceSuite) TestSearchByConcept() {
	s.storeConsentRule()

	rules, err := s.service.SearchByConcept(s.ctx, "consent", 0)
	s.Require().NoError(err)
	s.Len(rules, 1)

	rules, err = s.service.SearchByConcept(s.ctx, "retention", 0)
	s.Require().NoError(err)
	s.Empty(rules)

	_, err = s.service.SearchByConcept(s.ctx, "  ", 0)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *GraphServiceSuite) TestSemanticSearch() {
	s.storeConsentRule()

	matches, err := s.service.SemanticSearch(s.ctx, "consent for data processing", 5)
	s.Require().NoError(err)
	s.Require().NotEmpty(matches)
	s.Equal("GDPR_consent_01", matches[0].Rule.RuleID.String())

	_, err = s.service.SemanticSearch(s.ctx, "", 5)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *GraphServiceSuite) TestVersionHistoryAndDelete() {
	s.storeConsentRule()

	history, err := s.service.VersionHistory(s.ctx, "GDPR_consent_01")
	s.Require().NoError(err)
	s.Len(history, 1)

	_, err = s.service.VersionHistory(s.ctx, "CCPA_optout_01")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	s.Require().NoError(s.service.DeleteRule(s.ctx, "GDPR_consent_01"))
	err = s.service.DeleteRule(s.ctx, "GDPR_consent_01")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
