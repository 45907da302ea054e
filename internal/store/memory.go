package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/danielolaszy/autopr/pkg/models"
)

// MemoryStore keeps results for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[int64]models.ProcessingResult
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[int64]models.ProcessingResult)}
}

// GetAll returns copies of every result ordered by ascending issue ID.
func (s *MemoryStore) GetAll(_ context.Context) ([]models.ProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProcessingResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Issue.ID < out[j].Issue.ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, issueID int64) (models.ProcessingResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[issueID]
	if !ok {
		return models.ProcessingResult{}, false, nil
	}
	return clone(r), true, nil
}

func (s *MemoryStore) Upsert(_ context.Context, result models.ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[result.Issue.ID] = clone(result)
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, result models.ProcessingResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[result.Issue.ID]; ok {
		return false, nil
	}
	s.results[result.Issue.ID] = clone(result)
	return true, nil
}

func (s *MemoryStore) UpdateIssue(_ context.Context, issue models.Issue) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[issue.ID]
	if !ok || r.Status == models.StatusProcessing {
		return false, nil
	}
	r.Issue = issue
	s.results[issue.ID] = clone(r)
	return true, nil
}

func (s *MemoryStore) Claim(_ context.Context, result models.ProcessingResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[result.Issue.ID]
	if !ok || r.Status == models.StatusProcessing {
		return false, nil
	}
	r.Status = result.Status
	r.Date = result.Date
	r.Error = result.Error
	r.PullRequest = nil
	r.AttemptID = result.AttemptID
	r.Branch = result.Branch
	s.results[result.Issue.ID] = r
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, issueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, issueID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// clone detaches a result from the caller's slices and pointers.
func clone(r models.ProcessingResult) models.ProcessingResult {
	r.Issue.Labels = slices.Clone(r.Issue.Labels)
	if r.PullRequest != nil {
		pr := *r.PullRequest
		r.PullRequest = &pr
	}
	return r
}
