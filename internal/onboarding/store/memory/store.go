// Package memory provides an in-memory onboarding store for tests and local
// development.
package memory

import (
	"context"
	"sync"

	"membergate/internal/onboarding"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
)

// Store keeps onboarding records in a map guarded by one mutex. TransitionIf
// checks and swaps the status under the same lock, giving the same
// lost-update semantics as the conditional UPDATE in the database store.
type Store struct {
	mu      sync.RWMutex
	records map[id.OrgID]*onboarding.Record
}

func New() *Store {
	return &Store{records: make(map[id.OrgID]*onboarding.Record)}
}

func (s *Store) Create(_ context.Context, rec *onboarding.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.OrgID]; ok {
		return sentinel.ErrConflict
	}
	s.records[rec.OrgID] = copyRecord(rec)
	return nil
}

func (s *Store) Find(_ context.Context, orgID id.OrgID) (*onboarding.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Store) TransitionIf(_ context.Context, orgID id.OrgID, from onboarding.Status, cp onboarding.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orgID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Status != from {
		return sentinel.ErrStaleState
	}
	rec.Status = cp.ToStatus
	rec.Checkpoints = append(rec.Checkpoints, cp)
	rec.UpdatedAt = cp.Timestamp
	return nil
}

func copyRecord(rec *onboarding.Record) *onboarding.Record {
	cp := *rec
	cp.Checkpoints = append([]onboarding.Checkpoint(nil), rec.Checkpoints...)
	return &cp
}
