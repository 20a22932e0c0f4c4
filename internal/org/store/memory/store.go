// Package memory provides an in-memory organization store for tests and local
// development.
package memory

import (
	"context"
	"sync"

	"membergate/internal/org"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
)

// Store keeps all registry records in maps guarded by one mutex. The canonical
// identifier uniqueness check runs under the same lock as the insert, so two
// concurrent registrations race exactly like they would against the database
// constraint: one wins, one gets sentinel.ErrConflict.
type Store struct {
	mu        sync.RWMutex
	orgs      map[id.OrgID]*org.Organization
	parties   map[id.PartyID]*org.Party
	contacts  map[id.ContactID]*org.Contact
	endpoints map[id.EndpointID]*org.Endpoint
}

func New() *Store {
	return &Store{
		orgs:      make(map[id.OrgID]*org.Organization),
		parties:   make(map[id.PartyID]*org.Party),
		contacts:  make(map[id.ContactID]*org.Contact),
		endpoints: make(map[id.EndpointID]*org.Endpoint),
	}
}

// RunInTx executes fn directly. The memory store has no transactions; each
// operation is individually atomic under the store mutex.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) CreateOrganization(_ context.Context, o *org.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if !existing.Deleted && existing.CanonicalIdentifier == o.CanonicalIdentifier {
			return sentinel.ErrConflict
		}
	}
	cp := *o
	s.orgs[o.ID] = &cp
	return nil
}

func (s *Store) FindOrganization(_ context.Context, orgID id.OrgID) (*org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) UpdateOrganization(_ context.Context, o *org.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[o.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *o
	s.orgs[o.ID] = &cp
	return nil
}

func (s *Store) CreateParty(_ context.Context, p *org.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[p.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *p
	s.parties[p.ID] = &cp
	return nil
}

func (s *Store) CreateContact(_ context.Context, c *org.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.contacts {
		if existing.Email == c.Email {
			return sentinel.ErrConflict
		}
	}
	cp := *c
	s.contacts[c.ID] = &cp
	return nil
}

func (s *Store) FindContactByEmail(_ context.Context, email string) (*org.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) CreateEndpoint(_ context.Context, e *org.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[e.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *e
	cp.Capabilities = append([]string(nil), e.Capabilities...)
	s.endpoints[e.ID] = &cp
	return nil
}

func (s *Store) FindEndpoint(_ context.Context, endpointID id.EndpointID) (*org.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	cp.Capabilities = append([]string(nil), e.Capabilities...)
	return &cp, nil
}

func (s *Store) UpdateEndpoint(_ context.Context, e *org.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *e
	cp.Capabilities = append([]string(nil), e.Capabilities...)
	s.endpoints[e.ID] = &cp
	return nil
}

func (s *Store) ListEndpoints(_ context.Context, orgID id.OrgID) ([]*org.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*org.Endpoint
	for _, e := range s.endpoints {
		if e.OrgID == orgID {
			cp := *e
			cp.Capabilities = append([]string(nil), e.Capabilities...)
			out = append(out, &cp)
		}
	}
	return out, nil
}
