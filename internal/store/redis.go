package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Runs are immutable so cached entries never go
// stale; the TTL just bounds memory. Deletes invalidate.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) CreateRun(ctx context.Context, run *model.Run) error {
	if err := s.primary.CreateRun(ctx, run); err != nil {
		return err
	}
	s.cacheRun(ctx, run)
	return nil
}

func (s *CachedStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, runKey(id)).Bytes()
	if err == nil {
		var run model.Run
		if json.Unmarshal(data, &run) == nil {
			return &run, nil
		}
	}

	// Cache miss: read from primary.
	run, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheRun(ctx, run)
	return run, nil
}

// ListRuns is not cached: the listing changes with every new run.
func (s *CachedStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	return s.primary.ListRuns(ctx)
}

func (s *CachedStore) DeleteRun(ctx context.Context, id string) error {
	if err := s.primary.DeleteRun(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, runKey(id))
	return nil
}

func (s *CachedStore) cacheRun(ctx context.Context, run *model.Run) {
	if data, err := json.Marshal(run); err == nil {
		s.rdb.Set(ctx, runKey(run.ID), data, s.ttl)
	}
}

func runKey(id string) string { return fmt.Sprintf("run:%s", id) }
