package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ruletrace/internal/rulegraph"
)

// HandlerSuite drives the rule-graph HTTP surface against the real service
// with an in-memory store, so status mapping and payload shapes are tested
// end to end.
type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	service := rulegraph.NewService(rulegraph.NewInMemoryStore())

	s.router = chi.NewRouter()
	New(service, slog.New(slog.DiscardHandler)).Register(s.router)
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

func (s *HandlerSuite) storeConsentRule() {
	w := s.do(http.MethodPost, "/graph/rules", map[string]any{
		"rule_id":          "GDPR_consent_01",
		"rule_text":        "Explicit consent must precede any data processing.",
		"related_concepts": []string{"consent", "data processing"},
		"source_case_ids":  []string{"ecommerce_r1_consent"},
		"confidence_score": 0.8,
		"version":          1,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *HandlerSuite) TestStoreAndGet() {
	s.storeConsentRule()

	s.Run("stored rule is readable with its source cases", func() {
		w := s.do(http.MethodGet, "/graph/rules/GDPR_consent_01", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var rule rulegraph.Rule
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &rule))
		s.Equal("GDPR_consent_01", rule.RuleID.String())
		s.Require().Len(rule.SourceCases, 1)
		s.Equal("ecommerce_r1_consent", rule.SourceCases[0].String())
	})

	s.Run("rule payloads name the field source_case_ids", func() {
		w := s.do(http.MethodGet, "/graph/rules/GDPR_consent_01", nil)
		s.Require().Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"source_case_ids":["ecommerce_r1_consent"]`)
		s.NotContains(w.Body.String(), `"source_cases"`)
	})

	s.Run("absent rule returns 404", func() {
		w := s.do(http.MethodGet, "/graph/rules/CCPA_optout_01", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("rule with one concept returns 400", func() {
		w := s.do(http.MethodPost, "/graph/rules", map[string]any{
			"rule_id":          "GDPR_cookies_01",
			"rule_text":        "text",
			"related_concepts": []string{"only one"},
			"confidence_score": 0.5,
			"version":          1,
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestSearchAndLineage() {
	s.storeConsentRule()

	s.Run("search by concept finds the rule", func() {
		w := s.do(http.MethodGet, "/graph/rules?concepts=consent", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var result struct {
			Rules []*rulegraph.Rule `json:"rules"`
			Count int               `json:"count"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
		s.Equal(1, result.Count)
		s.Require().Len(result.Rules, 1)
		s.Equal("GDPR_consent_01", result.Rules[0].RuleID.String())
	})

	s.Run("reverse edge answers rules by source case", func() {
		w := s.do(http.MethodGet, "/graph/cases/ecommerce_r1_consent/rules", nil)
		s.Require().Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"GDPR_consent_01"`)
	})

	s.Run("version history lists the lineage", func() {
		w := s.do(http.MethodGet, "/graph/rules/GDPR_consent_01/history", nil)
		s.Require().Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"count":1`)
	})
}
