package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

// ManifestStore keeps pass records in memory.
type ManifestStore struct {
	mu     sync.RWMutex
	passes []crawler.PassRecord
	byID   map[string]int
}

// NewManifestStore constructs a ManifestStore.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{byID: make(map[string]int)}
}

// RecordPass stores a pass record. A record whose pass ID was already
// recorded is rejected.
func (s *ManifestStore) RecordPass(_ context.Context, record crawler.PassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := record.Summary.ID; id != "" {
		if _, exists := s.byID[id]; exists {
			return errors.New("pass already recorded")
		}
		s.byID[id] = len(s.passes)
	}
	s.passes = append(s.passes, clonePassRecord(record))
	return nil
}

// GetPass fetches a pass record by ID.
func (s *ManifestStore) GetPass(_ context.Context, passID string) (crawler.PassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[passID]
	if !ok {
		return crawler.PassRecord{}, errors.New("pass not found")
	}
	return clonePassRecord(s.passes[i]), nil
}

// ListPasses returns all recorded passes, oldest first.
func (s *ManifestStore) ListPasses(_ context.Context) ([]crawler.PassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.PassRecord, len(s.passes))
	for i, p := range s.passes {
		out[i] = clonePassRecord(p)
	}
	return out, nil
}

func clonePassRecord(r crawler.PassRecord) crawler.PassRecord {
	r.Outputs = append([]crawler.OutputRecord(nil), r.Outputs...)
	r.ErrorTexts = append([]string(nil), r.ErrorTexts...)
	return r
}
