// Package audit captures structured events for every traceability mutation so
// the derivation record itself stays reviewable.
package audit

import (
	"time"

	id "ruletrace/pkg/domain"
)

// Action classifies what a traceability event records.
type Action string

const (
	ActionRuleCreated        Action = "rule_created"
	ActionRuleLinked         Action = "rule_linked"
	ActionRuleVersionCreated Action = "rule_version_created"
	ActionRuleDeleted        Action = "rule_deleted"
	ActionLinksCleaned       Action = "links_cleaned"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	RuleID    id.RuleID `json:"rule_id,omitempty"`
	CaseID    id.CaseID `json:"case_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
