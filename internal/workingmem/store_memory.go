package workingmem

import (
	"context"
	"sync"
	"time"

	id "ruletrace/pkg/domain"
	"ruletrace/pkg/platform/sentinel"
)

type memoryRecord struct {
	entry     CaseEntry
	links     map[id.RuleID]struct{}
	expiresAt time.Time
}

func (r *memoryRecord) expired(now time.Time) bool {
	return now.After(r.expiresAt)
}

// InMemoryStore is a map-backed working-memory store with lazy TTL expiry.
// It doubles as the test fake for everything that consumes a Store.
//
// Expired records are dropped on access rather than by a background sweeper;
// the observable behavior (a read after the deadline misses) is identical.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.CaseID]*memoryRecord
	ttl     time.Duration

	// now is swappable so tests can step time across the TTL boundary.
	now func() time.Time
}

// NewInMemoryStore creates an in-memory store with the given retention window.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		records: make(map[id.CaseID]*memoryRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Test hook only.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the record for caseID, dropping it first if expired.
// Callers must hold the write lock.
func (s *InMemoryStore) live(caseID id.CaseID) *memoryRecord {
	rec, ok := s.records[caseID]
	if !ok {
		return nil
	}
	if rec.expired(s.now()) {
		delete(s.records, caseID)
		return nil
	}
	return rec
}

func (s *InMemoryStore) Create(_ context.Context, entry *CaseEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(entry.CaseID) != nil {
		return sentinel.ErrConflict
	}
	s.records[entry.CaseID] = &memoryRecord{
		entry:     *entry,
		links:     make(map[id.RuleID]struct{}),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, caseID id.CaseID) (*CaseEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return nil, sentinel.ErrNotFound
	}
	entry := rec.entry
	return &entry, nil
}

func (s *InMemoryStore) Update(_ context.Context, entry *CaseEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(entry.CaseID)
	if rec == nil {
		return sentinel.ErrNotFound
	}
	rec.entry = *entry
	rec.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, caseID id.CaseID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return false, nil
	}
	delete(s.records, caseID)
	return true, nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]*CaseEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := make([]*CaseEntry, 0, len(s.records))
	for caseID, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, caseID)
			continue
		}
		if !filter.Matches(&rec.entry) {
			continue
		}
		entry := rec.entry
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *InMemoryStore) ExtendTTL(_ context.Context, caseID id.CaseID, d time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return false, nil
	}
	rec.expiresAt = s.now().Add(d)
	return true, nil
}

func (s *InMemoryStore) AddRuleLink(_ context.Context, caseID id.CaseID, ruleID id.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return sentinel.ErrNotFound
	}
	rec.links[ruleID] = struct{}{}
	return nil
}

func (s *InMemoryStore) RemoveRuleLink(_ context.Context, caseID id.CaseID, ruleID id.RuleID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return false, nil
	}
	if _, ok := rec.links[ruleID]; !ok {
		return false, nil
	}
	delete(rec.links, ruleID)
	return true, nil
}

func (s *InMemoryStore) RuleLinks(_ context.Context, caseID id.CaseID) ([]id.RuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(caseID)
	if rec == nil {
		return nil, nil
	}
	links := make([]id.RuleID, 0, len(rec.links))
	for ruleID := range rec.links {
		links = append(links, ruleID)
	}
	return links, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
