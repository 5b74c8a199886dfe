package rulegraph

import (
	"context"
	"sort"
	"sync"

	id "ruletrace/pkg/domain"
	"ruletrace/pkg/platform/sentinel"
	pstrings "ruletrace/pkg/platform/strings"
)

type graphNode struct {
	rule Rule
	// seq breaks ranking ties deterministically when confidence and
	// updated_at are both equal.
	seq uint64
}

// InMemoryStore is a map-backed rule graph. It doubles as the test fake for
// everything that consumes a Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	nodes   map[id.RuleID]*graphNode
	nextSeq uint64
}

// NewInMemoryStore creates an empty in-memory rule graph.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nodes: make(map[id.RuleID]*graphNode)}
}

func (s *InMemoryStore) Upsert(_ context.Context, rule *Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := *rule
	incoming.Normalize()

	node, ok := s.nodes[incoming.RuleID]
	if !ok {
		s.nextSeq++
		s.nodes[incoming.RuleID] = &graphNode{rule: incoming, seq: s.nextSeq}
		stored := incoming
		return &stored, nil
	}

	// Merge semantics: scalars overwrite, relationship sets union,
	// created_at survives from the first write.
	merged := incoming
	merged.CreatedAt = node.rule.CreatedAt
	merged.RelatedConcepts = pstrings.DedupeAndTrimLower(
		append(append([]string{}, node.rule.RelatedConcepts...), incoming.RelatedConcepts...))
	merged.SourceCases = mergeCases(node.rule.SourceCases, incoming.SourceCases)

	s.nextSeq++
	node.rule = merged
	node.seq = s.nextSeq
	stored := merged
	return &stored, nil
}

func mergeCases(existing, incoming []id.CaseID) []id.CaseID {
	seen := make(map[id.CaseID]struct{}, len(existing)+len(incoming))
	merged := make([]id.CaseID, 0, len(existing)+len(incoming))
	for _, c := range append(append([]id.CaseID{}, existing...), incoming...) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}

func (s *InMemoryStore) Get(_ context.Context, ruleID id.RuleID) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[ruleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rule := node.rule
	return &rule, nil
}

func (s *InMemoryStore) Search(_ context.Context, query SearchQuery) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*graphNode, 0)
	for _, node := range s.nodes {
		if query.Matches(&node.rule) {
			matched = append(matched, node)
		}
	}
	rankNodes(matched)

	results := make([]*Rule, 0, len(matched))
	for _, node := range matched {
		rule := node.rule
		results = append(results, &rule)
	}
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// rankNodes orders by confidence descending, then recency descending, then
// insertion order descending so equal rules rank newest-first.
func rankNodes(nodes []*graphNode) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.rule.ConfidenceScore != b.rule.ConfidenceScore {
			return a.rule.ConfidenceScore > b.rule.ConfidenceScore
		}
		if !a.rule.UpdatedAt.Equal(b.rule.UpdatedAt) {
			return a.rule.UpdatedAt.After(b.rule.UpdatedAt)
		}
		return a.seq > b.seq
	})
}

func (s *InMemoryStore) RulesBySourceCase(_ context.Context, caseID id.CaseID) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*graphNode, 0)
	for _, node := range s.nodes {
		if node.rule.HasSourceCase(caseID) {
			matched = append(matched, node)
		}
	}
	rankNodes(matched)

	results := make([]*Rule, 0, len(matched))
	for _, node := range matched {
		rule := node.rule
		results = append(results, &rule)
	}
	return results, nil
}

func (s *InMemoryStore) VersionHistory(_ context.Context, ruleID id.RuleID) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := ruleID.Base()
	history := make([]*Rule, 0)
	for storedID, node := range s.nodes {
		if storedID.Base() != base {
			continue
		}
		rule := node.rule
		history = append(history, &rule)
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Version < history[j].Version
	})
	return history, nil
}

func (s *InMemoryStore) MaxVersion(_ context.Context, ruleID id.RuleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := ruleID.Base()
	max := 0
	for storedID, node := range s.nodes {
		if storedID.Base() != base {
			continue
		}
		if node.rule.Version > max {
			max = node.rule.Version
		}
	}
	return max, nil
}

func (s *InMemoryStore) Delete(_ context.Context, ruleID id.RuleID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[ruleID]; !ok {
		return false, nil
	}
	delete(s.nodes, ruleID)
	return true, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*Rule, 0, len(s.nodes))
	for _, node := range s.nodes {
		rule := node.rule
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
