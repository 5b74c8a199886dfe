package workingmem

import (
	"context"
	"errors"
	"time"

	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
	"ruletrace/pkg/platform/sentinel"
	"ruletrace/pkg/requestcontext"
)

// Service validates and orchestrates working-memory operations. It keeps
// read-modify-write logic out of the stores, which only expose whole-entry
// create/get/update/delete.
type Service struct {
	store Store
	ttl   time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// NewEntry is the client-supplied portion of a case entry.
type NewEntry struct {
	CaseID         string
	SubjectText    string
	InitialFinding Finding
}

// CreateEntry stores a fresh case entry under its TTL.
//
// Errors: CodeValidation for a malformed entry, CodeConflict when the case_id
// already exists (the existing entry is never overwritten).
func (s *Service) CreateEntry(ctx context.Context, in NewEntry) (*CaseEntry, error) {
	caseID, err := id.ParseCaseID(in.CaseID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	entry := &CaseEntry{
		CaseID:         caseID,
		SubjectText:    in.SubjectText,
		InitialFinding: in.InitialFinding,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "case entry already exists: "+caseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create case entry")
	}
	return entry, nil
}

// GetEntry returns the live entry for caseID.
//
// Errors: CodeValidation for a malformed case_id, CodeNotFound when the entry
// is absent or its TTL has lapsed.
func (s *Service) GetEntry(ctx context.Context, rawCaseID string) (*CaseEntry, error) {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.Get(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case entry not found: "+caseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entry")
	}
	return entry, nil
}

// AttachFeedback records the reviewer's verdict and re-arms the entry's TTL.
func (s *Service) AttachFeedback(ctx context.Context, rawCaseID string, feedback Feedback) (*CaseEntry, error) {
	if err := feedback.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, rawCaseID, func(entry *CaseEntry) error {
		fb := feedback
		entry.ReviewerFeedback = &fb
		return nil
	})
}

// SetFinalStatus records the post-review compliance verdict.
func (s *Service) SetFinalStatus(ctx context.Context, rawCaseID, rawStatus string) (*CaseEntry, error) {
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, rawCaseID, func(entry *CaseEntry) error {
		entry.FinalStatus = &status
		return nil
	})
}

// UpdateSubjectText replaces the assessed text, e.g. after a resubmission.
func (s *Service) UpdateSubjectText(ctx context.Context, rawCaseID, subjectText string) (*CaseEntry, error) {
	return s.mutate(ctx, rawCaseID, func(entry *CaseEntry) error {
		entry.SubjectText = subjectText
		return entry.Validate()
	})
}

// mutate loads the entry, applies fn, bumps updated_at, and writes it back.
// The store's whole-entry Update re-arms the TTL, so any successful mutation
// refreshes the retention window.
func (s *Service) mutate(ctx context.Context, rawCaseID string, fn func(*CaseEntry) error) (*CaseEntry, error) {
	entry, err := s.GetEntry(ctx, rawCaseID)
	if err != nil {
		return nil, err
	}
	if err := fn(entry); err != nil {
		return nil, err
	}
	entry.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case entry expired during update: "+entry.CaseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update case entry")
	}
	return entry, nil
}

// DeleteEntry removes the entry and its link set.
//
// Errors: CodeNotFound when nothing was removed.
func (s *Service) DeleteEntry(ctx context.Context, rawCaseID string) error {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return err
	}
	removed, err := s.store.Delete(ctx, caseID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete case entry")
	}
	if !removed {
		return dErrors.New(dErrors.CodeNotFound, "case entry not found: "+caseID.String())
	}
	return nil
}

// ListEntries returns live entries passing the filter.
func (s *Service) ListEntries(ctx context.Context, filter Filter) ([]*CaseEntry, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list case entries")
	}
	return entries, nil
}

// ExtendTTL pushes a case's expiry out by hours, e.g. while a review is still
// in flight. Zero hours means the configured retention window.
func (s *Service) ExtendTTL(ctx context.Context, rawCaseID string, hours int) error {
	caseID, err := id.ParseCaseID(rawCaseID)
	if err != nil {
		return err
	}
	if hours < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "hours must not be negative")
	}
	window := s.ttl
	if hours > 0 {
		window = time.Duration(hours) * time.Hour
	}
	ok, err := s.store.ExtendTTL(ctx, caseID, window)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to extend case ttl")
	}
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "case entry not found: "+caseID.String())
	}
	return nil
}

// Stats summarizes the live population by feedback presence and initial status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	entries, err := s.store.List(ctx, Filter{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case entries")
	}
	stats := &Stats{StatusBreakdown: make(map[Status]int)}
	for _, entry := range entries {
		stats.TotalEntries++
		if entry.HasFeedback() {
			stats.WithFeedback++
		} else {
			stats.WithoutFeedback++
		}
		stats.StatusBreakdown[entry.InitialFinding.Status]++
	}
	return stats, nil
}
