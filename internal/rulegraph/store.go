package rulegraph

import (
	"context"

	id "ruletrace/pkg/domain"
)

// Store is the rule-graph persistence contract. Writes are idempotent
// upserts: scalar fields overwrite, relationship sets merge. Implementations
// return sentinel errors for infrastructure facts; validation happens before
// any store call.
type Store interface {
	// Upsert writes the rule under its rule_id. An existing node keeps its
	// created_at, merges concepts and source cases, and takes the incoming
	// scalar fields. Returns the stored state after the merge.
	Upsert(ctx context.Context, rule *Rule) (*Rule, error)

	// Get returns the rule, or sentinel.ErrNotFound.
	Get(ctx context.Context, ruleID id.RuleID) (*Rule, error)

	// Search returns rules passing the query, ranked by confidence descending
	// then recency descending.
	Search(ctx context.Context, query SearchQuery) ([]*Rule, error)

	// RulesBySourceCase follows the reverse derivation edge: every rule whose
	// source set contains caseID. An unknown case yields an empty result.
	RulesBySourceCase(ctx context.Context, caseID id.CaseID) ([]*Rule, error)

	// VersionHistory returns every version sharing the rule's lineage prefix,
	// ascending by version.
	VersionHistory(ctx context.Context, ruleID id.RuleID) ([]*Rule, error)

	// MaxVersion returns the highest stored version in the rule's lineage,
	// or 0 when the lineage is empty.
	MaxVersion(ctx context.Context, ruleID id.RuleID) (int, error)

	// Delete removes one rule version. Reports whether it existed.
	Delete(ctx context.Context, ruleID id.RuleID) (bool, error)

	// All returns every stored rule. Integrity scans use this.
	All(ctx context.Context) ([]*Rule, error)

	// Ping reports store reachability for health checks.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
