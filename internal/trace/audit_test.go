package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dErrors "ruletrace/pkg/domain-errors"
)

// TestAuditTrail covers derivation-record assembly and the completeness score.
func (s *TraceServiceSuite) TestAuditTrail() {
	clock := s.now
	s.wm.SetClock(func() time.Time { return clock })

	s.seedCase("ecommerce_r1_consent", true)
	_, err := s.service.CreateRuleFromCase(s.ctx, "ecommerce_r1_consent", consentCandidate())
	s.Require().NoError(err)

	s.Run("fully evidenced reviewed rule scores high", func() {
		trail, err := s.service.AuditTrailForRule(s.ctx, "GDPR_consent_01")
		s.Require().NoError(err)
		s.Equal(1, trail.ChainLength)
		s.True(trail.HasHumanFeedback)
		s.Require().Len(trail.Sources, 1)
		s.True(trail.Sources[0].Available)
		s.Require().Len(trail.VersionHistory, 1)
		// availability 1.0*0.4 + feedback 1.0*0.4 + history 1.0*0.2
		s.InDelta(1.0, trail.EvidenceCompleteness, 1e-9)
		s.GreaterOrEqual(trail.EvidenceCompleteness, 0.8)
	})

	s.Run("expired sources degrade the score but keep the trail", func() {
		clock = clock.Add(25 * time.Hour)

		trail, err := s.service.AuditTrailForRule(s.ctx, "GDPR_consent_01")
		s.Require().NoError(err)
		s.Require().Len(trail.Sources, 1)
		s.False(trail.Sources[0].Available)
		s.False(trail.HasHumanFeedback)
		// availability 0*0.4 + feedback 0*0.4 + history 1.0*0.2
		s.InDelta(0.2, trail.EvidenceCompleteness, 1e-9)
	})

	s.Run("unknown rule reports not found", func() {
		_, err := s.service.AuditTrailForRule(s.ctx, "CCPA_optout_01")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("malformed rule_id reports validation error", func() {
		_, err := s.service.AuditTrailForRule(s.ctx, "not a rule id")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func TestEvidenceCompleteness(t *testing.T) {
	tests := []struct {
		name     string
		sources  []SourceEvidence
		versions int
		want     float64
	}{
		{
			name: "all available with feedback and history",
			sources: []SourceEvidence{
				{Available: true, HasFeedback: true},
				{Available: true, HasFeedback: true},
			},
			versions: 2,
			want:     1.0,
		},
		{
			name: "half available, half reviewed",
			sources: []SourceEvidence{
				{Available: true, HasFeedback: true},
				{Available: false},
			},
			versions: 1,
			want:     0.5*0.4 + 0.5*0.4 + 1.0*0.2,
		},
		{
			name: "no history halves the tracking term",
			sources: []SourceEvidence{
				{Available: true, HasFeedback: false},
			},
			versions: 0,
			want:     1.0*0.4 + 0 + 0.5*0.2,
		},
		{
			name:     "no sources scores zero outright",
			sources:  nil,
			versions: 3,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, evidenceCompleteness(tt.sources, tt.versions), 1e-9)
		})
	}
}
