package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/navproof/accounting-engine/internal/invariant"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	reports  map[string]*Report // by ID
	byDigest map[string]string  // digest → report ID
	order    []string           // report IDs in save order
	lineages map[string]int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[string]*Report),
		byDigest: make(map[string]string),
		lineages: make(map[string]int64),
	}
}

func (s *MemoryStore) SaveReport(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Digest != "" {
		if _, exists := s.byDigest[r.Digest]; exists {
			return nil
		}
		s.byDigest[r.Digest] = r.ID
	}

	// Store a copy to avoid external mutation.
	cp := cloneReport(r)
	s.reports[r.ID] = cp
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryStore) Report(_ context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return cloneReport(r), nil
}

func (s *MemoryStore) ReportByDigest(_ context.Context, digest string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, fmt.Errorf("report for digest %s: %w", digest, ErrNotFound)
	}
	return cloneReport(s.reports[id]), nil
}

func (s *MemoryStore) RecentReports(_ context.Context, limit int) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	reports := make([]Report, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(reports) < limit; i-- {
		reports = append(reports, *cloneReport(s.reports[s.order[i]]))
	}
	return reports, nil
}

func (s *MemoryStore) LineageHead(_ context.Context, lineage string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, ok := s.lineages[lineage]
	if !ok {
		return 0, fmt.Errorf("lineage %s: %w", lineage, ErrNotFound)
	}
	return head, nil
}

func (s *MemoryStore) AdvanceLineage(_ context.Context, lineage string, step int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.lineages[lineage]; !ok || step > cur {
		s.lineages[lineage] = step
	}
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// cloneReport deep-copies a report so callers never share slice backing
// arrays with the store's copy.
func cloneReport(r *Report) *Report {
	cp := *r
	if r.Codes != nil {
		cp.Codes = append([]string(nil), r.Codes...)
	}
	if r.Checks != nil {
		cp.Checks = append([]invariant.CheckResult(nil), r.Checks...)
	}
	if r.StepIndex != nil {
		step := *r.StepIndex
		cp.StepIndex = &step
	}
	return &cp
}
