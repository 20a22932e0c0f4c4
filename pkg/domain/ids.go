// Package domain holds the typed identifiers shared across services.
//
// Each entity gets its own UUID-backed type so that an OrgID can never be
// passed where a PartyID is expected. The compiler enforces what code review
// used to miss.
package domain

import (
	"database/sql/driver"

	"github.com/google/uuid"

	dErrors "membergate/pkg/domain-errors"
)

type (
	// OrgID identifies an Organization (a registrant legal entity).
	OrgID uuid.UUID
	// PartyID identifies a Party, the tenant-isolation unit. Every ownership
	// check in the system is evaluated against a PartyID.
	PartyID uuid.UUID
	// ContactID identifies a person associated with an Organization.
	ContactID uuid.UUID
	// EndpointID identifies a member-registered network endpoint.
	EndpointID uuid.UUID
	// CredentialID identifies an issued machine credential.
	CredentialID uuid.UUID
	// CaseID identifies a document VerificationCase.
	CaseID uuid.UUID
	// ActorID identifies an authenticated caller (the token subject).
	ActorID uuid.UUID
)

func parse(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, what+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+what+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, what+" id must not be nil")
	}
	return u, nil
}

// ParseOrgID validates and converts a string into an OrgID.
func ParseOrgID(s string) (OrgID, error) {
	u, err := parse(s, "organization")
	return OrgID(u), err
}

// ParsePartyID validates and converts a string into a PartyID.
func ParsePartyID(s string) (PartyID, error) {
	u, err := parse(s, "party")
	return PartyID(u), err
}

// ParseContactID validates and converts a string into a ContactID.
func ParseContactID(s string) (ContactID, error) {
	u, err := parse(s, "contact")
	return ContactID(u), err
}

// ParseEndpointID validates and converts a string into an EndpointID.
func ParseEndpointID(s string) (EndpointID, error) {
	u, err := parse(s, "endpoint")
	return EndpointID(u), err
}

// ParseCredentialID validates and converts a string into a CredentialID.
func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parse(s, "credential")
	return CredentialID(u), err
}

// ParseCaseID validates and converts a string into a CaseID.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parse(s, "verification case")
	return CaseID(u), err
}

// ParseActorID validates and converts a string into an ActorID.
func ParseActorID(s string) (ActorID, error) {
	u, err := parse(s, "actor")
	return ActorID(u), err
}

func (id OrgID) String() string        { return uuid.UUID(id).String() }
func (id PartyID) String() string      { return uuid.UUID(id).String() }
func (id ContactID) String() string    { return uuid.UUID(id).String() }
func (id EndpointID) String() string   { return uuid.UUID(id).String() }
func (id CredentialID) String() string { return uuid.UUID(id).String() }
func (id CaseID) String() string       { return uuid.UUID(id).String() }
func (id ActorID) String() string      { return uuid.UUID(id).String() }

func (id OrgID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id PartyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ContactID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EndpointID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text and SQL round-tripping delegates to the underlying uuid.UUID so typed
// IDs serialize as canonical UUID strings in JSON and in the database.

func (id OrgID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id PartyID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ContactID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id EndpointID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id CredentialID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id CaseID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id ActorID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }

func (id *OrgID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PartyID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ContactID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EndpointID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CredentialID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CaseID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ActorID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id OrgID) Value() (driver.Value, error)        { return uuid.UUID(id).Value() }
func (id PartyID) Value() (driver.Value, error)      { return uuid.UUID(id).Value() }
func (id ContactID) Value() (driver.Value, error)    { return uuid.UUID(id).Value() }
func (id EndpointID) Value() (driver.Value, error)   { return uuid.UUID(id).Value() }
func (id CredentialID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }
func (id CaseID) Value() (driver.Value, error)       { return uuid.UUID(id).Value() }
func (id ActorID) Value() (driver.Value, error)      { return uuid.UUID(id).Value() }

func (id *OrgID) Scan(src any) error        { return (*uuid.UUID)(id).Scan(src) }
func (id *PartyID) Scan(src any) error      { return (*uuid.UUID)(id).Scan(src) }
func (id *ContactID) Scan(src any) error    { return (*uuid.UUID)(id).Scan(src) }
func (id *EndpointID) Scan(src any) error   { return (*uuid.UUID)(id).Scan(src) }
func (id *CredentialID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }
func (id *CaseID) Scan(src any) error       { return (*uuid.UUID)(id).Scan(src) }
func (id *ActorID) Scan(src any) error      { return (*uuid.UUID)(id).Scan(src) }

// NewOrgID returns a fresh random OrgID.
func NewOrgID() OrgID { return OrgID(uuid.New()) }

// NewPartyID returns a fresh random PartyID.
func NewPartyID() PartyID { return PartyID(uuid.New()) }

// NewContactID returns a fresh random ContactID.
func NewContactID() ContactID { return ContactID(uuid.New()) }

// NewEndpointID returns a fresh random EndpointID.
func NewEndpointID() EndpointID { return EndpointID(uuid.New()) }

// NewCredentialID returns a fresh random CredentialID.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

// NewCaseID returns a fresh random CaseID.
func NewCaseID() CaseID { return CaseID(uuid.New()) }

// NewActorID returns a fresh random ActorID. Production actor IDs come from
// token subjects; this is for tests and system actors.
func NewActorID() ActorID { return ActorID(uuid.New()) }
