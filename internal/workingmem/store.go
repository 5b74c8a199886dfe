package workingmem

import (
	"context"
	"time"

	id "ruletrace/pkg/domain"
)

// Store is the working-memory persistence contract. Implementations return
// sentinel errors for infrastructure facts (not found, conflict); validation
// happens in the service layer before any store call.
//
// Single-key operations are atomic at the store level. There is no multi-key
// transaction: callers must tolerate a link set surviving an entry, and treat
// a not-found result as a normal outcome since TTL expiry is autonomous.
type Store interface {
	// Create persists a new entry and arms its TTL.
	// Returns sentinel.ErrConflict when the case_id already exists.
	Create(ctx context.Context, entry *CaseEntry) error

	// Get returns the live entry, or sentinel.ErrNotFound when absent or expired.
	Get(ctx context.Context, caseID id.CaseID) (*CaseEntry, error)

	// Update overwrites an existing entry and re-arms its TTL.
	// Returns sentinel.ErrNotFound when the entry is absent.
	Update(ctx context.Context, entry *CaseEntry) error

	// Delete removes the entry and its link set. Reports whether anything was removed.
	Delete(ctx context.Context, caseID id.CaseID) (bool, error)

	// List returns live entries passing the filter.
	List(ctx context.Context, filter Filter) ([]*CaseEntry, error)

	// ExtendTTL pushes the entry's expiry (and its link set's) out by d.
	// Reports false when the entry is absent.
	ExtendTTL(ctx context.Context, caseID id.CaseID, d time.Duration) (bool, error)

	// AddRuleLink records that ruleID was derived from caseID. The link set's
	// TTL mirrors the owning entry's. Returns sentinel.ErrNotFound when the
	// case is absent.
	AddRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) error

	// RemoveRuleLink drops one link. Reports whether it was present.
	RemoveRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) (bool, error)

	// RuleLinks returns the case's link set. An absent case yields an empty set.
	RuleLinks(ctx context.Context, caseID id.CaseID) ([]id.RuleID, error)

	// Ping reports store reachability for health checks.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
