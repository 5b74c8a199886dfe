// Package workingmem holds the ephemeral, TTL-bound tier of the assessment
// memory: one CaseEntry per compliance-requirement assessment, plus the
// per-case link set pointing at rules derived from it.
package workingmem

import (
	"strings"
	"time"

	id "ruletrace/pkg/domain"
	dErrors "ruletrace/pkg/domain-errors"
)

// Status is the compliance verdict for a case.
// Invariant: the value must be one of the supported statuses.
//
// Usage: construct via ParseStatus at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Status string

// Supported compliance statuses.
const (
	StatusCompliant          Status = "Compliant"
	StatusNonCompliant       Status = "Non-Compliant"
	StatusPartiallyCompliant Status = "Partially Compliant"
)

// validStatuses is the single source of truth for valid statuses.
var validStatuses = map[Status]bool{
	StatusCompliant:          true,
	StatusNonCompliant:       true,
	StatusPartiallyCompliant: true,
}

// ParseStatus constructs a Status from external input.
//
// Errors: returns CodeValidation when the value is empty or unsupported.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "status cannot be empty")
	}
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid status: "+s)
	}
	return st, nil
}

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Finding is the initial assessment produced by the upstream assessment
// collaborator.
type Finding struct {
	Status         Status `json:"status"`
	Rationale      string `json:"rationale"`
	Recommendation string `json:"recommendation"`
}

// Validate checks the finding for completeness.
func (f Finding) Validate() error {
	if !f.Status.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "initial_finding.status must be a valid compliance status")
	}
	if strings.TrimSpace(f.Rationale) == "" {
		return dErrors.New(dErrors.CodeValidation, "initial_finding.rationale is required")
	}
	if strings.TrimSpace(f.Recommendation) == "" {
		return dErrors.New(dErrors.CodeValidation, "initial_finding.recommendation is required")
	}
	return nil
}

// Feedback is the reviewer's verdict on the initial finding.
type Feedback struct {
	Decision   string `json:"decision"`
	Rationale  string `json:"rationale"`
	Suggestion string `json:"suggestion"`
}

// Validate checks the feedback for completeness.
func (f Feedback) Validate() error {
	if strings.TrimSpace(f.Decision) == "" {
		return dErrors.New(dErrors.CodeValidation, "reviewer_feedback.decision is required")
	}
	if strings.TrimSpace(f.Rationale) == "" {
		return dErrors.New(dErrors.CodeValidation, "reviewer_feedback.rationale is required")
	}
	if strings.TrimSpace(f.Suggestion) == "" {
		return dErrors.New(dErrors.CodeValidation, "reviewer_feedback.suggestion is required")
	}
	return nil
}

// CaseEntry is one per-case assessment record. Owned exclusively by working
// memory; destroyed on explicit delete or TTL expiry.
type CaseEntry struct {
	CaseID           id.CaseID `json:"case_id"`
	SubjectText      string    `json:"subject_text"`
	InitialFinding   Finding   `json:"initial_finding"`
	ReviewerFeedback *Feedback `json:"reviewer_feedback"`
	FinalStatus      *Status   `json:"final_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks the entry against the data model invariants.
func (e *CaseEntry) Validate() error {
	if _, err := id.ParseCaseID(e.CaseID.String()); err != nil {
		return err
	}
	if strings.TrimSpace(e.SubjectText) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_text is required")
	}
	if err := e.InitialFinding.Validate(); err != nil {
		return err
	}
	if e.ReviewerFeedback != nil {
		if err := e.ReviewerFeedback.Validate(); err != nil {
			return err
		}
	}
	if e.FinalStatus != nil && !e.FinalStatus.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "final_status must be a valid compliance status")
	}
	return nil
}

// HasFeedback reports whether the reviewer has weighed in on this case.
func (e *CaseEntry) HasFeedback() bool {
	return e.ReviewerFeedback != nil
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	// InitialStatus keeps only entries whose initial finding has this status.
	InitialStatus *Status
	// HasFeedback keeps only entries with (true) or without (false) reviewer feedback.
	HasFeedback *bool
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e *CaseEntry) bool {
	if f.InitialStatus != nil && e.InitialFinding.Status != *f.InitialStatus {
		return false
	}
	if f.HasFeedback != nil && e.HasFeedback() != *f.HasFeedback {
		return false
	}
	return true
}

// Stats summarizes the live working-memory population.
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	WithFeedback    int            `json:"entries_with_feedback"`
	WithoutFeedback int            `json:"entries_without_feedback"`
	StatusBreakdown map[Status]int `json:"status_breakdown"`
}
