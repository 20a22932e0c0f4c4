package memory

import (
	"context"
	"sync"

	"membergate/internal/verification"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
)

// Store keeps verification cases in memory for tests and development.
//
// Error contract (shared with the postgres store):
//   - sentinel.ErrNotFound when the case does not exist
//   - sentinel.ErrStaleState when a conditional update loses a race
type Store struct {
	mu    sync.RWMutex
	cases map[id.CaseID]*verification.Case
}

// New constructs an empty in-memory case store.
func New() *Store {
	return &Store{cases: make(map[id.CaseID]*verification.Case)}
}

func (s *Store) Create(_ context.Context, c *verification.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *Store) FindByID(_ context.Context, caseID id.CaseID) (*verification.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) FindByOrg(_ context.Context, orgID id.OrgID) ([]*verification.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*verification.Case
	for _, c := range s.cases {
		if c.OrgID == orgID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateIf replaces the stored case only while its sub-state still equals
// from. The lock is held across check and write, which is what the postgres
// store's conditional UPDATE gives it.
func (s *Store) UpdateIf(_ context.Context, c *verification.Case, from verification.SubState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.SubState != from {
		return sentinel.ErrStaleState
	}
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}
