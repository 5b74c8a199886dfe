package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ruletrace/internal/workingmem"
)

// HandlerSuite drives the HTTP surface against the real service with an
// in-memory store, so status mapping and JSON envelopes are tested end to end.
type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	store := workingmem.NewInMemoryStore(24 * time.Hour)
	service := workingmem.NewService(store, 24*time.Hour)

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

func (s *HandlerSuite) createEntry(caseID string) {
	w := s.do(http.MethodPost, "/memory/cases", map[string]any{
		"case_id":      caseID,
		"subject_text": "Checkout flow stores card numbers after authorization.",
		"initial_finding": map[string]string{
			"status":         "Non-Compliant",
			"rationale":      "Card data retained beyond the transaction.",
			"recommendation": "Purge PANs once the payment settles.",
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
}

func (s *HandlerSuite) TestCreate() {
	s.Run("valid entry returns 201 with the stored record", func() {
		s.createEntry("ecommerce_r1_consent")

		w := s.do(http.MethodGet, "/memory/cases/ecommerce_r1_consent", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var entry workingmem.CaseEntry
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &entry))
		s.Equal("ecommerce_r1_consent", entry.CaseID.String())
		s.Equal(workingmem.StatusNonCompliant, entry.InitialFinding.Status)
	})

	s.Run("duplicate create returns 409", func() {
		w := s.do(http.MethodPost, "/memory/cases", map[string]any{
			"case_id":      "ecommerce_r1_consent",
			"subject_text": "duplicate",
			"initial_finding": map[string]string{
				"status":         "Compliant",
				"rationale":      "r",
				"recommendation": "rec",
			},
		})
		s.Equal(http.StatusConflict, w.Code)
	})

	s.Run("malformed case_id returns 400", func() {
		w := s.do(http.MethodPost, "/memory/cases", map[string]any{
			"case_id":      "x_bad_id",
			"subject_text": "text",
			"initial_finding": map[string]string{
				"status":         "Compliant",
				"rationale":      "r",
				"recommendation": "rec",
			},
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("missing body fields return 400", func() {
		w := s.do(http.MethodPost, "/memory/cases", map[string]any{"case_id": "ecommerce_r2_other"})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestFeedbackLifecycle() {
	s.createEntry("finance_r2_retention")

	s.Run("attach feedback", func() {
		w := s.do(http.MethodPost, "/memory/cases/finance_r2_retention/feedback", map[string]any{
			"reviewer_feedback": map[string]string{
				"decision":   "accept",
				"rationale":  "Finding matches the evidence.",
				"suggestion": "Codify as a retention rule.",
			},
		})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var entry workingmem.CaseEntry
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &entry))
		s.Require().NotNil(entry.ReviewerFeedback)
		s.Equal("accept", entry.ReviewerFeedback.Decision)
	})

	s.Run("incomplete feedback returns 400", func() {
		w := s.do(http.MethodPost, "/memory/cases/finance_r2_retention/feedback", map[string]any{
			"reviewer_feedback": map[string]string{"decision": "accept"},
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("set final status", func() {
		w := s.do(http.MethodPut, "/memory/cases/finance_r2_retention/final-status", map[string]any{
			"final_status": "Compliant",
		})
		s.Require().Equal(http.StatusOK, w.Code)

		var entry workingmem.CaseEntry
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &entry))
		s.Require().NotNil(entry.FinalStatus)
		s.Equal(workingmem.StatusCompliant, *entry.FinalStatus)
	})

	s.Run("unknown status returns 400", func() {
		w := s.do(http.MethodPut, "/memory/cases/finance_r2_retention/final-status", map[string]any{
			"final_status": "Maybe",
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestNotFoundPaths() {
	s.Run("get missing entry", func() {
		w := s.do(http.MethodGet, "/memory/cases/health_r9_absent", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("delete missing entry", func() {
		w := s.do(http.MethodDelete, "/memory/cases/health_r9_absent", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("extend missing entry", func() {
		w := s.do(http.MethodPost, "/memory/cases/health_r9_absent/extend", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *HandlerSuite) TestExtendTTL() {
	s.createEntry("finance_r3_kyc")

	s.Run("bodyless extend uses the default window", func() {
		w := s.do(http.MethodPost, "/memory/cases/finance_r3_kyc/extend", nil)
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("extend accepts a caller-chosen hour count", func() {
		w := s.do(http.MethodPost, "/memory/cases/finance_r3_kyc/extend", map[string]any{
			"hours": 48,
		})
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("negative hours return 400", func() {
		w := s.do(http.MethodPost, "/memory/cases/finance_r3_kyc/extend", map[string]any{
			"hours": -1,
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestListAndStats() {
	s.createEntry("ecommerce_r1_consent")
	s.createEntry("finance_r2_retention")

	w := s.do(http.MethodPost, "/memory/cases/finance_r2_retention/feedback", map[string]any{
		"reviewer_feedback": map[string]string{
			"decision":   "accept",
			"rationale":  "ok",
			"suggestion": "none",
		},
	})
	s.Require().Equal(http.StatusOK, w.Code)

	s.Run("list honors the feedback filter", func() {
		w := s.do(http.MethodGet, "/memory/cases?has_feedback=true", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Count   int                     `json:"count"`
			Entries []*workingmem.CaseEntry `json:"entries"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Equal(1, resp.Count)
		s.Equal("finance_r2_retention", resp.Entries[0].CaseID.String())
	})

	s.Run("bad filter value returns 400", func() {
		w := s.do(http.MethodGet, "/memory/cases?has_feedback=yes", nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("stats reflect the population", func() {
		w := s.do(http.MethodGet, "/memory/stats", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var stats workingmem.Stats
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &stats))
		s.Equal(2, stats.TotalEntries)
		s.Equal(1, stats.WithFeedback)
		s.Equal(1, stats.WithoutFeedback)
	})
}

func (s *HandlerSuite) TestDelete() {
	s.createEntry("ecommerce_r1_consent")

	w := s.do(http.MethodDelete, "/memory/cases/ecommerce_r1_consent", nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/memory/cases/ecommerce_r1_consent", nil)
	s.Equal(http.StatusNotFound, w.Code)
}
