package submission

import (
	"context"
	"sort"
	"strings"
	"sync"

	dErrors "sportello/pkg/domain-errors"
)

// InMemoryStore keeps submissions in process memory. Development and
// tests only; production deployments use the postgres store.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*Submission
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, items: make(map[int64]*Submission)}
}

func (s *InMemoryStore) Insert(_ context.Context, sub *Submission) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if strings.EqualFold(existing.CodiceFiscale, sub.CodiceFiscale) {
			return 0, dErrors.New(dErrors.CodeConflict, "Esiste già una richiesta per questo codice fiscale.")
		}
	}
	id := s.nextID
	s.nextID++
	stored := *sub
	stored.ID = id
	s.items[id] = &stored
	return id, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.items[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	out := *sub
	return &out, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*Submission, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Submission, 0, len(s.items))
	for _, sub := range s.items {
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !matchesSearch(sub, filter.Search) {
			continue
		}
		out := *sub
		matched = append(matched, &out)
	}
	// Newest first, matching the postgres ordering.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SubmittedAt.Equal(matched[j].SubmittedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*Submission{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *InMemoryStore) ExistsCodiceFiscale(_ context.Context, cf string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.items {
		if strings.EqualFold(sub.CodiceFiscale, cf) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.items[id]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	sub.Status = status
	return nil
}

func (s *InMemoryStore) UpdateNotes(_ context.Context, id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.items[id]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	sub.Notes = notes
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	delete(s.items, id)
	return nil
}

func matchesSearch(sub *Submission, q string) bool {
	q = strings.ToLower(q)
	for _, field := range []string{sub.Cognome, sub.Nome, sub.CodiceFiscale, sub.Email} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
