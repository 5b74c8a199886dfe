// Package handler exposes the rule graph over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ruletrace/internal/rulegraph"
	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/httputil"
	"ruletrace/pkg/requestcontext"
)

// Service defines the rule-graph operations the handler depends on.
type Service interface {
	StoreRule(ctx context.Context, rule *rulegraph.Rule) (*rulegraph.Rule, error)
	GetRule(ctx context.Context, ruleID string) (*rulegraph.Rule, error)
	Search(ctx context.Context, query rulegraph.SearchQuery) ([]*rulegraph.Rule, error)
	SemanticSearch(ctx context.Context, query string, limit int) ([]rulegraph.SemanticMatch, error)
	RulesBySourceCase(ctx context.Context, caseID string) ([]*rulegraph.Rule, error)
	VersionHistory(ctx context.Context, ruleID string) ([]*rulegraph.Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error
}

// Handler handles rule-graph endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the rule-graph routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/graph/rules", func(r chi.Router) {
		r.Post("/", h.handleStore)
		r.Get("/", h.handleSearch)
		r.Get("/{ruleID}", h.handleGet)
		r.Delete("/{ruleID}", h.handleDelete)
		r.Get("/{ruleID}/history", h.handleVersionHistory)
	})
	r.Get("/graph/search/semantic", h.handleSemanticSearch)
	r.Get("/graph/cases/{caseID}/rules", h.handleRulesBySourceCase)
}

type storeRuleRequest struct {
	RuleID          string   `json:"rule_id"`
	RuleText        string   `json:"rule_text"`
	RelatedConcepts []string `json:"related_concepts"`
	SourceCases     []string `json:"source_case_ids"`
	ConfidenceScore float64  `json:"confidence_score"`
	Version         int      `json:"version"`
}

func (req storeRuleRequest) Validate() error {
	if strings.TrimSpace(req.RuleID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "rule_id is required")
	}
	if strings.TrimSpace(req.RuleText) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "rule_text is required")
	}
	return nil
}

func (req storeRuleRequest) toRule() *rulegraph.Rule {
	rule := &rulegraph.Rule{
		RuleID:          id.RuleID(req.RuleID),
		RuleText:        req.RuleText,
		RelatedConcepts: req.RelatedConcepts,
		ConfidenceScore: req.ConfidenceScore,
		Version:         req.Version,
	}
	for _, c := range req.SourceCases {
		rule.SourceCases = append(rule.SourceCases, id.CaseID(c))
	}
	return rule
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[storeRuleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	stored, err := h.service.StoreRule(ctx, req.toRule())
	if err != nil {
		h.writeServiceError(ctx, w, "failed to store rule", err)
		return
	}

	h.logger.InfoContext(ctx, "rule stored",
		"request_id", requestID,
		"rule_id", stored.RuleID.String(),
		"version", stored.Version,
	)
	httputil.WriteJSON(w, http.StatusOK, stored)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to read rule", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		h.writeServiceError(r.Context(), w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.VersionHistory(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to read version history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"versions": history,
		"count":    len(history),
	})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := rulegraph.SearchQuery{
		Policy: q.Get("policy"),
		Limit:  parseLimit(q.Get("limit")),
	}
	if raw := q.Get("concepts"); raw != "" {
		query.Concepts = strings.Split(raw, ",")
	}
	if raw := q.Get("keywords"); raw != "" {
		query.Keywords = strings.Split(raw, ",")
	}

	rules, err := h.service.Search(r.Context(), query)
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to search rules", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *Handler) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matches, err := h.service.SemanticSearch(r.Context(), q.Get("q"), parseLimit(q.Get("limit")))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to run semantic search", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"matches":       matches,
		"count":         len(matches),
		"authoritative": false,
	})
}

func (h *Handler) handleRulesBySourceCase(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.RulesBySourceCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to read rules by source case", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
