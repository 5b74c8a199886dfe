package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ruletrace/internal/audit"
	"ruletrace/internal/rulegraph"
	"ruletrace/internal/trace"
	"ruletrace/internal/workingmem"
	id "ruletrace/pkg/domain"
)

// HandlerSuite drives the traceability HTTP surface end to end: real service,
// in-memory stores, no mocks.
type HandlerSuite struct {
	suite.Suite
	ctx    context.Context
	router chi.Router
	wm     *workingmem.InMemoryStore
	graph  *rulegraph.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	s.wm = workingmem.NewInMemoryStore(24 * time.Hour)
	s.graph = rulegraph.NewInMemoryStore()

	log := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(audit.NewInMemoryStore(), nil, log)
	service := trace.NewService(s.wm, s.graph, recorder, nil, log)

	s.router = chi.NewRouter()
	New(service, log).Register(s.router)
}

func (s *HandlerSuite) seedCase(caseID string) {
	now := time.Now().UTC()
	entry := &workingmem.CaseEntry{
		CaseID:      id.CaseID(caseID),
		SubjectText: "Checkout flow collects email without explicit consent.",
		InitialFinding: workingmem.Finding{
			Status:         workingmem.StatusNonCompliant,
			Rationale:      "No consent checkbox before data capture.",
			Recommendation: "Add explicit opt-in before collection.",
		},
		ReviewerFeedback: &workingmem.Feedback{
			Decision:   "accept",
			Rationale:  "Finding matches the evidence.",
			Suggestion: "Codify as a consent rule.",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Require().NoError(s.wm.Create(s.ctx, entry))
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) createRule(caseID string) *trace.LinkResult {
	w := s.do(http.MethodPost, "/trace/cases/"+caseID+"/rules", map[string]any{
		"rule_text":        "Explicit consent must precede any data processing.",
		"related_concepts": []string{"consent", "data processing"},
		"policy_area":      "GDPR",
		"confidence_score": 0.8,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var result trace.LinkResult
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
	return &result
}

func (s *HandlerSuite) TestCreateRuleFromCase() {
	s.seedCase("ecommerce_r1_consent")

	s.Run("derives the rule and links both tiers", func() {
		result := s.createRule("ecommerce_r1_consent")
		s.Equal("GDPR_consent_01", result.Rule.RuleID.String())
		s.True(result.LinkedInWorkingMemory)
	})

	s.Run("absent case returns 404", func() {
		w := s.do(http.MethodPost, "/trace/cases/finance_r9_absent/rules", map[string]any{
			"rule_text":        "text",
			"related_concepts": []string{"a", "b"},
			"policy_area":      "SOX",
			"confidence_score": 0.5,
		})
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("candidate with one concept returns 400", func() {
		w := s.do(http.MethodPost, "/trace/cases/ecommerce_r1_consent/rules", map[string]any{
			"rule_text":        "text",
			"related_concepts": []string{"only"},
			"policy_area":      "GDPR",
			"confidence_score": 0.5,
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestLinkAndNavigate() {
	s.seedCase("ecommerce_r1_consent")
	s.seedCase("finance_r2_retention")
	s.createRule("ecommerce_r1_consent")

	s.Run("link an existing rule to a second case", func() {
		w := s.do(http.MethodPost, "/trace/rules/GDPR_consent_01/links", map[string]any{
			"case_id": "finance_r2_retention",
		})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var result trace.LinkResult
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
		s.Len(result.Rule.SourceCases, 2)
	})

	s.Run("case to rules", func() {
		w := s.do(http.MethodGet, "/trace/cases/finance_r2_retention/rules", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var result trace.CaseRules
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
		s.True(result.CaseInWorkingMemory)
		s.Require().Len(result.Rules, 1)
		s.Equal(1, result.Count)
		s.Equal("GDPR_consent_01", result.Rules[0].RuleID.String())
	})

	s.Run("rule to cases", func() {
		w := s.do(http.MethodGet, "/trace/rules/GDPR_consent_01/cases", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var result trace.RuleCases
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
		s.Len(result.AvailableCases, 2)
		s.Zero(result.MissingCount)
	})

	s.Run("linking to an absent rule returns 404", func() {
		w := s.do(http.MethodPost, "/trace/rules/CCPA_optout_01/links", map[string]any{
			"case_id": "finance_r2_retention",
		})
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *HandlerSuite) TestCreateVersion() {
	s.seedCase("ecommerce_r1_consent")
	s.createRule("ecommerce_r1_consent")

	w := s.do(http.MethodPost, "/trace/rules/GDPR_consent_01/versions", map[string]any{
		"rule_text": "Consent must be explicit, informed, and revocable.",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var result trace.LinkResult
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
	s.Equal("GDPR_consent_02", result.Rule.RuleID.String())
	s.Equal(2, result.Rule.Version)

	s.Run("out-of-range confidence returns 400", func() {
		w := s.do(http.MethodPost, "/trace/rules/GDPR_consent_01/versions", map[string]any{
			"confidence_score": 1.5,
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestAuditTrail() {
	s.seedCase("ecommerce_r1_consent")
	s.createRule("ecommerce_r1_consent")

	w := s.do(http.MethodGet, "/trace/rules/GDPR_consent_01/audit-trail", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var trail trace.AuditTrail
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &trail))
	s.Equal(1, trail.ChainLength)
	s.True(trail.HasHumanFeedback)
	s.InDelta(1.0, trail.EvidenceCompleteness, 1e-9)

	s.Run("absent rule returns 404", func() {
		w := s.do(http.MethodGet, "/trace/rules/CCPA_optout_01/audit-trail", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *HandlerSuite) TestIntegrityEndpoints() {
	s.seedCase("ecommerce_r1_consent")
	s.createRule("ecommerce_r1_consent")

	s.Run("clean system reports PASS", func() {
		w := s.do(http.MethodGet, "/trace/integrity", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var report trace.IntegrityReport
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &report))
		s.Equal(trace.IntegrityPass, report.Status)
	})

	s.Run("cleanup repairs dangling cache links", func() {
		removed, err := s.graph.Delete(s.ctx, id.RuleID("GDPR_consent_01"))
		s.Require().NoError(err)
		s.Require().True(removed)

		w := s.do(http.MethodPost, "/trace/integrity/cleanup", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var report trace.CleanupReport
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &report))
		s.Equal(1, report.CleanedLinks)
	})
}
