// Package handler exposes the traceability operations over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ruletrace/internal/trace"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/httputil"
	"ruletrace/pkg/requestcontext"
)

// Service defines the traceability operations the handler depends on.
type Service interface {
	CreateRuleFromCase(ctx context.Context, caseID string, candidate trace.CandidateRule) (*trace.LinkResult, error)
	LinkExistingRuleToCase(ctx context.Context, ruleID, caseID string) (*trace.LinkResult, error)
	NavigateCaseToRules(ctx context.Context, caseID string) (*trace.CaseRules, error)
	NavigateRuleToCases(ctx context.Context, ruleID string) (*trace.RuleCases, error)
	CreateVersion(ctx context.Context, ruleID string, update trace.VersionUpdate) (*trace.LinkResult, error)
	AuditTrailForRule(ctx context.Context, ruleID string) (*trace.AuditTrail, error)
	ValidateIntegrity(ctx context.Context) (*trace.IntegrityReport, error)
	CleanupBrokenLinks(ctx context.Context) (*trace.CleanupReport, error)
}

// Handler handles traceability endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the traceability routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/trace", func(r chi.Router) {
		r.Post("/cases/{caseID}/rules", h.handleCreateRuleFromCase)
		r.Get("/cases/{caseID}/rules", h.handleNavigateCaseToRules)
		r.Post("/rules/{ruleID}/links", h.handleLinkRuleToCase)
		r.Get("/rules/{ruleID}/cases", h.handleNavigateRuleToCases)
		r.Post("/rules/{ruleID}/versions", h.handleCreateVersion)
		r.Get("/rules/{ruleID}/audit-trail", h.handleAuditTrail)
		r.Get("/integrity", h.handleValidateIntegrity)
		r.Post("/integrity/cleanup", h.handleCleanupBrokenLinks)
	})
}

type createRuleRequest struct {
	trace.CandidateRule
}

func (req createRuleRequest) Validate() error {
	return req.CandidateRule.Validate()
}

func (h *Handler) handleCreateRuleFromCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createRuleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.CreateRuleFromCase(ctx, chi.URLParam(r, "caseID"), req.CandidateRule)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to create rule from case", err)
		return
	}

	h.logger.InfoContext(ctx, "rule derived from case",
		"request_id", requestID,
		"case_id", result.CaseID.String(),
		"rule_id", result.Rule.RuleID.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}

type linkRuleRequest struct {
	CaseID string `json:"case_id"`
}

func (req linkRuleRequest) Validate() error {
	if strings.TrimSpace(req.CaseID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "case_id is required")
	}
	return nil
}

func (h *Handler) handleLinkRuleToCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[linkRuleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.LinkExistingRuleToCase(ctx, chi.URLParam(r, "ruleID"), req.CaseID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to link rule to case", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleNavigateCaseToRules(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.NavigateCaseToRules(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to navigate case to rules", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleNavigateRuleToCases(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.NavigateRuleToCases(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to navigate rule to cases", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type createVersionRequest struct {
	trace.VersionUpdate
}

func (req createVersionRequest) Validate() error {
	if req.ConfidenceScore != nil && (*req.ConfidenceScore < 0 || *req.ConfidenceScore > 1) {
		return dErrors.New(dErrors.CodeBadRequest, "confidence_score must be within [0, 1]")
	}
	return nil
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createVersionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.CreateVersion(ctx, chi.URLParam(r, "ruleID"), req.VersionUpdate)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to create rule version", err)
		return
	}

	h.logger.InfoContext(ctx, "rule version created",
		"request_id", requestID,
		"rule_id", result.Rule.RuleID.String(),
		"version", result.Rule.Version,
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.service.AuditTrailForRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to assemble audit trail", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trail)
}

func (h *Handler) handleValidateIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ValidateIntegrity(r.Context())
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to validate integrity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCleanupBrokenLinks(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CleanupBrokenLinks(r.Context())
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to clean up broken links", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
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
