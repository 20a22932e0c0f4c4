package memory

import (
	"context"
	"sync"
	"time"

	"membergate/internal/vault"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
)

// Store keeps credentials in memory for tests and development.
type Store struct {
	mu    sync.RWMutex
	creds map[id.CredentialID]*vault.Credential
}

// New constructs an empty in-memory credential store.
func New() *Store {
	return &Store{creds: make(map[id.CredentialID]*vault.Credential)}
}

func (s *Store) Create(_ context.Context, c *vault.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *Store) FindByID(_ context.Context, credentialID id.CredentialID) (*vault.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListByOwner(_ context.Context, owner vault.Owner) ([]*vault.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*vault.Credential
	for _, c := range s.creds {
		if c.Owner == owner {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkRevoked is one-way. Revoking twice is a no-op, never an error.
func (s *Store) MarkRevoked(_ context.Context, credentialID id.CredentialID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[credentialID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.Revoked {
		return nil
	}
	c.Revoked = true
	c.RevokedAt = at
	return nil
}
