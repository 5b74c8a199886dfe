package trace

import (
	"time"

	"ruletrace/internal/rulegraph"
	id "ruletrace/pkg/domain"
)

// TestValidateIntegrity covers the cross-tier consistency checks.
func (s *TraceServiceSuite) TestValidateIntegrity() {
	s.Run("clean system passes", func() {
		s.seedCase("ecommerce_r1_consent", true)
		_, err := s.service.CreateRuleFromCase(s.ctx, "ecommerce_r1_consent", consentCandidate())
		s.Require().NoError(err)

		report, err := s.service.ValidateIntegrity(s.ctx)
		s.Require().NoError(err)
		s.Equal(IntegrityPass, report.Status)
		s.Empty(report.Issues)
		s.Equal(1, report.Statistics.TotalCaseEntries)
		s.Equal(1, report.Statistics.TotalRules)
	})

	s.Run("reviewed case without rules is flagged", func() {
		s.seedCase("finance_r2_retention", true)

		report, err := s.service.ValidateIntegrity(s.ctx)
		s.Require().NoError(err)
		s.Equal(IntegrityIssues, report.Status)
		s.Equal(1, report.Statistics.FeedbackWithoutRules)
		s.Require().NotEmpty(report.Issues)
		s.Equal(IssueFeedbackWithoutRules, report.Issues[0].Type)
	})

	s.Run("rule with no sources is flagged", func() {
		orphan := &rulegraph.Rule{
			RuleID:          "CCPA_optout_01",
			RuleText:        "Opt-out requests must be honored within 15 days.",
			RelatedConcepts: []string{"optout", "deadline"},
			ConfidenceScore: 0.7,
			Version:         1,
			CreatedAt:       s.now,
			UpdatedAt:       s.now,
		}
		_, err := s.graph.Upsert(s.ctx, orphan)
		s.Require().NoError(err)

		report, err := s.service.ValidateIntegrity(s.ctx)
		s.Require().NoError(err)
		s.Equal(IntegrityIssues, report.Status)
		s.Equal(1, report.Statistics.EmptySourceSets)
	})

	s.Run("expired source becomes a broken link, not a failure", func() {
		clock := s.now
		s.wm.SetClock(func() time.Time { return clock })
		s.seedCase("health_r3_phi", false)

		candidate := consentCandidate()
		candidate.PolicyArea = "HIPAA"
		candidate.RelatedConcepts = []string{"phi", "authorization"}
		_, err := s.service.CreateRuleFromCase(s.ctx, "health_r3_phi", candidate)
		s.Require().NoError(err)

		clock = clock.Add(25 * time.Hour) // every entry expires

		report, err := s.service.ValidateIntegrity(s.ctx)
		s.Require().NoError(err)
		s.Equal(IntegrityIssues, report.Status)
		s.GreaterOrEqual(report.Statistics.BrokenLinks, 1)
		s.Zero(report.Statistics.TotalCaseEntries)
	})
}

// TestCleanupBrokenLinks covers cache-side repair.
func (s *TraceServiceSuite) TestCleanupBrokenLinks() {
	s.seedCase("ecommerce_r1_consent", true)
	_, err := s.service.CreateRuleFromCase(s.ctx, "ecommerce_r1_consent", consentCandidate())
	s.Require().NoError(err)

	s.Run("nothing to clean on a consistent system", func() {
		report, err := s.service.CleanupBrokenLinks(s.ctx)
		s.Require().NoError(err)
		s.Zero(report.CleanedLinks)
	})

	s.Run("removes cache links to deleted rules only", func() {
		// simulate an out-of-band rule deletion leaving a dangling cache link
		removed, err := s.graph.Delete(s.ctx, "GDPR_consent_01")
		s.Require().NoError(err)
		s.Require().True(removed)

		report, err := s.service.CleanupBrokenLinks(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, report.CleanedLinks)

		links, err := s.wm.RuleLinks(s.ctx, "ecommerce_r1_consent")
		s.Require().NoError(err)
		s.Empty(links)

		// the case entry itself is untouched
		entry, err := s.wm.Get(s.ctx, id.CaseID("ecommerce_r1_consent"))
		s.Require().NoError(err)
		s.NotNil(entry)
	})

	s.Run("cleanup is idempotent", func() {
		report, err := s.service.CleanupBrokenLinks(s.ctx)
		s.Require().NoError(err)
		s.Zero(report.CleanedLinks)
	})
}
