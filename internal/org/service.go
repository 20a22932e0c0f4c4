package org

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"membergate/internal/audit"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

// Store persists organizations, parties, contacts, and endpoints. RunInTx
// scopes the enclosed operations to one atomic unit; implementations without
// transactions serialize instead.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOrganization(ctx context.Context, o *Organization) error
	FindOrganization(ctx context.Context, orgID id.OrgID) (*Organization, error)
	UpdateOrganization(ctx context.Context, o *Organization) error

	CreateParty(ctx context.Context, p *Party) error
	CreateContact(ctx context.Context, c *Contact) error
	FindContactByEmail(ctx context.Context, email string) (*Contact, error)

	CreateEndpoint(ctx context.Context, e *Endpoint) error
	FindEndpoint(ctx context.Context, endpointID id.EndpointID) (*Endpoint, error)
	UpdateEndpoint(ctx context.Context, e *Endpoint) error
	ListEndpoints(ctx context.Context, orgID id.OrgID) ([]*Endpoint, error)
}

// OnboardingStarter opens the lifecycle record for a freshly registered
// organization. Satisfied by the onboarding service.
type OnboardingStarter interface {
	Start(ctx context.Context, orgID id.OrgID) error
}

// AuditPublisher records registration events.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service owns the organization registry: registration, endpoint rosters, and
// party resolution for the authorization layer.
type Service struct {
	store   Store
	starter OnboardingStarter
	auditor AuditPublisher
	logger  *slog.Logger
}

func NewService(store Store, starter OnboardingStarter, auditor AuditPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		starter: starter,
		auditor: auditor,
		logger:  logger,
	}
}

// RegisterInput is the payload for a new registration.
type RegisterInput struct {
	LegalName    string               `json:"legal_name"`
	Identifiers  []RegistryIdentifier `json:"identifiers"`
	ContactName  string               `json:"contact_name"`
	ContactEmail string               `json:"contact_email"`
}

// Registration is the result of a successful Register call.
type Registration struct {
	Organization *Organization `json:"organization"`
	Party        *Party        `json:"party"`
	Contact      *Contact      `json:"contact"`
}

// Register creates the Organization, its Party, its first Contact, and the
// onboarding record as one atomic unit. A second live organization with the
// same canonical registry identifier is rejected as a conflict; re-registering
// an identifier whose previous organization was deleted is allowed.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Registration, error) {
	now := requestcontext.Now(ctx)

	orgID := id.NewOrgID()
	partyID := id.NewPartyID()

	organization, err := NewOrganization(orgID, partyID, input.LegalName, input.Identifiers, now)
	if err != nil {
		return nil, err
	}
	contact, err := newContact(orgID, input.ContactName, input.ContactEmail, now)
	if err != nil {
		return nil, err
	}
	party := &Party{ID: partyID, OrgID: orgID, CreatedAt: now}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateOrganization(ctx, organization); err != nil {
			return err
		}
		if err := s.store.CreateParty(ctx, party); err != nil {
			return err
		}
		if err := s.store.CreateContact(ctx, contact); err != nil {
			return err
		}
		return s.starter.Start(ctx, orgID)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an organization with this registry identifier is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "register organization")
	}

	caller, _ := requestcontext.CallerFrom(ctx)
	entry := audit.Entry{
		ActorID:      caller.ActorID,
		PartyID:      partyID,
		Action:       audit.ActionOrgRegister,
		ResourceType: "organization",
		ResourceID:   orgID.String(),
		Result:       audit.ResultAllowed,
	}
	if err := s.auditor.Emit(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed after registration",
			slog.String("org_id", orgID.String()),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "organization registered",
		slog.String("org_id", orgID.String()),
		slog.String("canonical_identifier", organization.CanonicalIdentifier))

	return &Registration{Organization: organization, Party: party, Contact: contact}, nil
}

// Get returns a live organization. Deleted organizations are reported as
// not found.
func (s *Service) Get(ctx context.Context, orgID id.OrgID) (*Organization, error) {
	o, err := s.store.FindOrganization(ctx, orgID)
	if err != nil {
		return nil, s.translateStoreErr(err, "organization")
	}
	if o.Deleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
	}
	return o, nil
}

// Delete soft-deletes an organization, releasing its canonical identifier for
// future registrations. Dependent records are kept for audit history.
func (s *Service) Delete(ctx context.Context, orgID id.OrgID) error {
	o, err := s.Get(ctx, orgID)
	if err != nil {
		return err
	}
	o.Deleted = true
	o.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateOrganization(ctx, o); err != nil {
		return s.translateStoreErr(err, "organization")
	}
	return nil
}

// AddEndpoint declares a new endpoint for a live organization.
func (s *Service) AddEndpoint(ctx context.Context, orgID id.OrgID, address string, capabilities []string) (*Endpoint, error) {
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	endpoint, err := NewEndpoint(id.NewEndpointID(), orgID, address, capabilities, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, s.translateStoreErr(err, "endpoint")
	}
	return endpoint, nil
}

// ListEndpoints returns all endpoints declared by an organization.
func (s *Service) ListEndpoints(ctx context.Context, orgID id.OrgID) ([]*Endpoint, error) {
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	endpoints, err := s.store.ListEndpoints(ctx, orgID)
	if err != nil {
		return nil, s.translateStoreErr(err, "endpoint")
	}
	return endpoints, nil
}

// ReviewEndpoint marks an endpoint as operator-reviewed. Credentials are only
// issued against reviewed endpoints.
func (s *Service) ReviewEndpoint(ctx context.Context, endpointID id.EndpointID, reviewer id.ActorID) (*Endpoint, error) {
	endpoint, err := s.store.FindEndpoint(ctx, endpointID)
	if err != nil {
		return nil, s.translateStoreErr(err, "endpoint")
	}
	if endpoint.Reviewed {
		return endpoint, nil
	}
	endpoint.Reviewed = true
	endpoint.ReviewedBy = reviewer
	if err := s.store.UpdateEndpoint(ctx, endpoint); err != nil {
		return nil, s.translateStoreErr(err, "endpoint")
	}
	return endpoint, nil
}

// CountEndpoints reports how many endpoints an organization has declared.
func (s *Service) CountEndpoints(ctx context.Context, orgID id.OrgID) (int, error) {
	endpoints, err := s.store.ListEndpoints(ctx, orgID)
	if err != nil {
		return 0, s.translateStoreErr(err, "endpoint")
	}
	return len(endpoints), nil
}

// ReviewedEndpoints returns the endpoints eligible for credential issuance.
func (s *Service) ReviewedEndpoints(ctx context.Context, orgID id.OrgID) ([]*Endpoint, error) {
	endpoints, err := s.store.ListEndpoints(ctx, orgID)
	if err != nil {
		return nil, s.translateStoreErr(err, "endpoint")
	}
	reviewed := endpoints[:0:0]
	for _, e := range endpoints {
		if e.Reviewed {
			reviewed = append(reviewed, e)
		}
	}
	return reviewed, nil
}

// EndpointOrg resolves the organization owning an endpoint, for ownership
// checks on endpoint-bound credentials.
func (s *Service) EndpointOrg(ctx context.Context, endpointID id.EndpointID) (id.OrgID, error) {
	endpoint, err := s.store.FindEndpoint(ctx, endpointID)
	if err != nil {
		return id.OrgID{}, s.translateStoreErr(err, "endpoint")
	}
	return endpoint.OrgID, nil
}

// FindByID satisfies the verification directory lookup.
func (s *Service) FindByID(ctx context.Context, orgID id.OrgID) (*Organization, error) {
	return s.Get(ctx, orgID)
}

// ResolvePartyByEmail maps a verified contact email to its Party and
// Organization. Contacts of deleted organizations do not resolve.
func (s *Service) ResolvePartyByEmail(ctx context.Context, email string) (id.PartyID, id.OrgID, error) {
	contact, err := s.store.FindContactByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return id.PartyID{}, id.OrgID{}, err
	}
	o, err := s.store.FindOrganization(ctx, contact.OrgID)
	if err != nil {
		return id.PartyID{}, id.OrgID{}, err
	}
	if o.Deleted {
		return id.PartyID{}, id.OrgID{}, sentinel.ErrNotFound
	}
	return o.PartyID, o.ID, nil
}

func (s *Service) translateStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "organization store")
	}
}

func newContact(orgID id.OrgID, name, email string, now time.Time) (*Contact, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contact name and email are required")
	}
	return &Contact{
		ID:        id.NewContactID(),
		OrgID:     orgID,
		Name:      name,
		Email:     email,
		CreatedAt: now,
	}, nil
}
