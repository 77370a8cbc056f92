package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for reports. Reports are immutable once saved (verification is
// deterministic), so cached entries never need invalidation, only expiry.
// Lineage heads are never cached: they must stay strongly consistent.
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

// --- Write path (write to primary, populate cache) ---

func (s *CachedStore) SaveReport(ctx context.Context, r *Report) error {
	if err := s.primary.SaveReport(ctx, r); err != nil {
		return err
	}
	s.cacheReport(ctx, r)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Report(ctx context.Context, id string) (*Report, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, reportKey(id)).Bytes()
	if err == nil {
		var r Report
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.Report(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheReport(ctx, r)
	return r, nil
}

func (s *CachedStore) ReportByDigest(ctx context.Context, digest string) (*Report, error) {
	// Try cache via digest→report ID mapping.
	id, err := s.rdb.Get(ctx, digestKey(digest)).Result()
	if err == nil {
		return s.Report(ctx, id)
	}

	// Cache miss.
	r, err := s.primary.ReportByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}

	s.cacheReport(ctx, r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) RecentReports(ctx context.Context, limit int) ([]Report, error) {
	return s.primary.RecentReports(ctx, limit)
}

func (s *CachedStore) LineageHead(ctx context.Context, lineage string) (int64, error) {
	return s.primary.LineageHead(ctx, lineage)
}

func (s *CachedStore) AdvanceLineage(ctx context.Context, lineage string, step int64) error {
	return s.primary.AdvanceLineage(ctx, lineage, step)
}

// Ping tracks the primary; the cache is best-effort.
func (s *CachedStore) Ping(ctx context.Context) error { return s.primary.Ping(ctx) }

func (s *CachedStore) Close() error {
	return errors.Join(s.primary.Close(), s.rdb.Close())
}

// --- Cache helpers ---

func (s *CachedStore) cacheReport(ctx context.Context, r *Report) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, reportKey(r.ID), data, s.ttl)
	if r.Digest != "" {
		s.rdb.Set(ctx, digestKey(r.Digest), r.ID, s.ttl)
	}
}

func reportKey(id string) string     { return fmt.Sprintf("report:%s", id) }
func digestKey(digest string) string { return fmt.Sprintf("report:digest:%s", digest) }
