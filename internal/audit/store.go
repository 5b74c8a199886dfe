package audit

import (
	"context"
	"sync"

	id "ruletrace/pkg/domain"
)

// Store is the append-only audit event sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListByRule returns events touching the rule, oldest first.
	ListByRule(ctx context.Context, ruleID id.RuleID) ([]Event, error)
	// ListRecent returns the newest events, newest first, capped at limit.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// InMemoryStore is a slice-backed audit sink for tests and single-process runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByRule(_ context.Context, ruleID id.RuleID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Event
	for _, event := range s.events {
		if event.RuleID == ruleID {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	recent := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		recent = append(recent, s.events[i])
	}
	return recent, nil
}
