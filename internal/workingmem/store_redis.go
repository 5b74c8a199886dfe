package workingmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "ruletrace/pkg/domain"
	"ruletrace/pkg/platform/sentinel"
)

const (
	caseKeyPrefix = "wm:case:"
	linkKeyPrefix = "wm:links:"
)

// RedisStore is the production working-memory store. Entries are JSON values
// under wm:case:{case_id} with a server-side TTL; the link set lives under
// wm:links:{case_id} and its TTL mirrors the owning entry's.
//
// Redis expires the two keys independently, so a link set can briefly outlive
// its entry after ExtendTTL races with expiry. Readers already treat a
// missing entry as a normal outcome, so the skew is harmless.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed working-memory store.
// The client lifecycle is managed externally.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func caseKey(caseID id.CaseID) string { return caseKeyPrefix + caseID.String() }
func linkKey(caseID id.CaseID) string { return linkKeyPrefix + caseID.String() }

func (s *RedisStore) Create(ctx context.Context, entry *CaseEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal case entry: %w", err)
	}
	// SET NX makes the first writer win; concurrent creates for the same
	// case_id resolve here, not via external locking.
	ok, err := s.client.SetNX(ctx, caseKey(entry.CaseID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create case entry: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, caseID id.CaseID) (*CaseEntry, error) {
	data, err := s.client.Get(ctx, caseKey(caseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case entry: %w", err)
	}
	var entry CaseEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal case entry %s: %w", caseID, err)
	}
	return &entry, nil
}

func (s *RedisStore) Update(ctx context.Context, entry *CaseEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal case entry: %w", err)
	}
	// XX refuses to resurrect an expired entry; every successful write
	// re-arms the TTL to the configured window.
	ok, err := s.client.SetXX(ctx, caseKey(entry.CaseID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("update case entry: %w", err)
	}
	if !ok {
		return sentinel.ErrNotFound
	}
	s.mirrorLinkTTL(ctx, entry.CaseID)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, caseID id.CaseID) (bool, error) {
	removed, err := s.client.Del(ctx, caseKey(caseID), linkKey(caseID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete case entry: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*CaseEntry, error) {
	var entries []*CaseEntry
	iter := s.client.Scan(ctx, 0, caseKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("list case entries: %w", err)
		}
		var entry CaseEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal case entry %s: %w", iter.Val(), err)
		}
		if filter.Matches(&entry) {
			entries = append(entries, &entry)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan case entries: %w", err)
	}
	return entries, nil
}

func (s *RedisStore) ExtendTTL(ctx context.Context, caseID id.CaseID, d time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, caseKey(caseID), d).Result()
	if err != nil {
		return false, fmt.Errorf("extend case ttl: %w", err)
	}
	if ok {
		s.client.Expire(ctx, linkKey(caseID), d)
	}
	return ok, nil
}

func (s *RedisStore) AddRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) error {
	exists, err := s.client.Exists(ctx, caseKey(caseID)).Result()
	if err != nil {
		return fmt.Errorf("check case entry: %w", err)
	}
	if exists == 0 {
		return sentinel.ErrNotFound
	}
	if err := s.client.SAdd(ctx, linkKey(caseID), ruleID.String()).Err(); err != nil {
		return fmt.Errorf("add rule link: %w", err)
	}
	s.mirrorLinkTTL(ctx, caseID)
	return nil
}

func (s *RedisStore) RemoveRuleLink(ctx context.Context, caseID id.CaseID, ruleID id.RuleID) (bool, error) {
	removed, err := s.client.SRem(ctx, linkKey(caseID), ruleID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("remove rule link: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStore) RuleLinks(ctx context.Context, caseID id.CaseID) ([]id.RuleID, error) {
	members, err := s.client.SMembers(ctx, linkKey(caseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read rule links: %w", err)
	}
	links := make([]id.RuleID, 0, len(members))
	for _, m := range members {
		links = append(links, id.RuleID(m))
	}
	return links, nil
}

// mirrorLinkTTL pins the link set's expiry to the owning entry's remaining
// TTL. Best effort: a failure here only widens the skew window that readers
// already tolerate.
func (s *RedisStore) mirrorLinkTTL(ctx context.Context, caseID id.CaseID) {
	remaining, err := s.client.TTL(ctx, caseKey(caseID)).Result()
	if err != nil || remaining <= 0 {
		return
	}
	s.client.Expire(ctx, linkKey(caseID), remaining)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op: the client lifecycle is managed externally.
func (s *RedisStore) Close() error { return nil }
