// Package handler exposes working-memory case entries over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ruletrace/internal/workingmem"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/httputil"
	"ruletrace/pkg/requestcontext"
)

// Service defines the working-memory operations the handler depends on.
type Service interface {
	CreateEntry(ctx context.Context, in workingmem.NewEntry) (*workingmem.CaseEntry, error)
	GetEntry(ctx context.Context, caseID string) (*workingmem.CaseEntry, error)
	AttachFeedback(ctx context.Context, caseID string, feedback workingmem.Feedback) (*workingmem.CaseEntry, error)
	SetFinalStatus(ctx context.Context, caseID, status string) (*workingmem.CaseEntry, error)
	UpdateSubjectText(ctx context.Context, caseID, subjectText string) (*workingmem.CaseEntry, error)
	DeleteEntry(ctx context.Context, caseID string) error
	ListEntries(ctx context.Context, filter workingmem.Filter) ([]*workingmem.CaseEntry, error)
	ExtendTTL(ctx context.Context, caseID string, hours int) error
	Stats(ctx context.Context) (*workingmem.Stats, error)
}

// Handler handles working-memory endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the working-memory routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/memory/cases", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{caseID}", h.handleGet)
		r.Delete("/{caseID}", h.handleDelete)
		r.Post("/{caseID}/feedback", h.handleAttachFeedback)
		r.Put("/{caseID}/final-status", h.handleSetFinalStatus)
		r.Put("/{caseID}/subject-text", h.handleUpdateSubjectText)
		r.Post("/{caseID}/extend", h.handleExtendTTL)
	})
	r.Get("/memory/stats", h.handleStats)
}

type createEntryRequest struct {
	CaseID         string             `json:"case_id"`
	SubjectText    string             `json:"subject_text"`
	InitialFinding workingmem.Finding `json:"initial_finding"`
}

func (req createEntryRequest) Validate() error {
	if strings.TrimSpace(req.CaseID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "case_id is required")
	}
	if strings.TrimSpace(req.SubjectText) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "subject_text is required")
	}
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createEntryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.CreateEntry(ctx, workingmem.NewEntry{
		CaseID:         req.CaseID,
		SubjectText:    req.SubjectText,
		InitialFinding: req.InitialFinding,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "failed to create case entry", err)
		return
	}

	h.logger.InfoContext(ctx, "case entry created",
		"request_id", requestID,
		"case_id", entry.CaseID.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetEntry(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to read case entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteEntry(r.Context(), chi.URLParam(r, "caseID")); err != nil {
		h.writeServiceError(r.Context(), w, "failed to delete case entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachFeedbackRequest struct {
	Feedback workingmem.Feedback `json:"reviewer_feedback"`
}

func (req attachFeedbackRequest) Validate() error {
	return req.Feedback.Validate()
}

func (h *Handler) handleAttachFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[attachFeedbackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.AttachFeedback(ctx, chi.URLParam(r, "caseID"), req.Feedback)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to attach feedback", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type setFinalStatusRequest struct {
	FinalStatus string `json:"final_status"`
}

func (req setFinalStatusRequest) Validate() error {
	if strings.TrimSpace(req.FinalStatus) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "final_status is required")
	}
	return nil
}

func (h *Handler) handleSetFinalStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[setFinalStatusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.SetFinalStatus(ctx, chi.URLParam(r, "caseID"), req.FinalStatus)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to set final status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type updateSubjectTextRequest struct {
	SubjectText string `json:"subject_text"`
}

func (req updateSubjectTextRequest) Validate() error {
	if strings.TrimSpace(req.SubjectText) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "subject_text is required")
	}
	return nil
}

func (h *Handler) handleUpdateSubjectText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[updateSubjectTextRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.UpdateSubjectText(ctx, chi.URLParam(r, "caseID"), req.SubjectText)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update subject text", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type extendTTLRequest struct {
	// Hours is the new retention window. Zero or absent means the configured
	// default.
	Hours int `json:"hours"`
}

func (h *Handler) handleExtendTTL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The body is optional; an empty POST extends by the default window.
	var req extendTTLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "undecodable extend request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.service.ExtendTTL(ctx, chi.URLParam(r, "caseID"), req.Hours); err != nil {
		h.writeServiceError(ctx, w, "failed to extend case ttl", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.ListEntries(ctx, filter)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list case entries", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func filterFromQuery(r *http.Request) (workingmem.Filter, error) {
	var filter workingmem.Filter
	if raw := r.URL.Query().Get("initial_status"); raw != "" {
		status, err := workingmem.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.InitialStatus = &status
	}
	switch r.URL.Query().Get("has_feedback") {
	case "":
	case "true":
		v := true
		filter.HasFeedback = &v
	case "false":
		v := false
		filter.HasFeedback = &v
	default:
		return filter, dErrors.New(dErrors.CodeBadRequest, "has_feedback must be true or false")
	}
	return filter, nil
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeServiceError(r.Context(), w, "failed to compute stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// writeServiceError logs internal failures and hands every error to the shared
// envelope writer, which maps codes to HTTP statuses.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
