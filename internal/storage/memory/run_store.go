package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// RunStore records sitemap run metadata in-memory.
type RunStore struct {
	mu   sync.RWMutex
	runs []crawler.RunMetadata
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{}
}

// StoreRun appends meta.
func (s *RunStore) StoreRun(_ context.Context, meta crawler.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, meta)
	return nil
}

// Runs returns the stored runs in insertion order.
func (s *RunStore) Runs() []crawler.RunMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runs)
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(_ context.Context, limit int) ([]crawler.RunMetadata, error) {
	runs := s.Runs()
	slices.Reverse(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
