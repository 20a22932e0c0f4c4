package org

import (
	"strings"
	"time"
	"unicode"

	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
)

// RegistryIdentifier is one jurisdiction registry entry for a legal entity,
// e.g. a chamber-of-commerce number tagged with its country and registry.
type RegistryIdentifier struct {
	Identifier  string `json:"identifier"`
	CountryCode string `json:"country_code"`
	Registry    string `json:"registry"`
}

// Organization is the aggregate root for a registrant legal entity.
//
// Invariants:
//   - LegalName is non-empty and at most 256 characters
//   - At least one RegistryIdentifier with identifier and country code
//   - At most one non-deleted Organization per CanonicalIdentifier; the
//     stores enforce this with a uniqueness constraint scoped to live rows.
//     This invariant was violated in production before this rewrite, leaving
//     orphaned references; it is enforced, not assumed.
//   - The top-level onboarding status lives on the OnboardingRecord, not
//     here, so there is a single source of truth for the lifecycle.
type Organization struct {
	ID                  id.OrgID             `json:"id"`
	PartyID             id.PartyID           `json:"party_id"`
	LegalName           string               `json:"legal_name"`
	Identifiers         []RegistryIdentifier `json:"identifiers"`
	CanonicalIdentifier string               `json:"canonical_identifier"`
	Deleted             bool                 `json:"deleted"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Party is the tenant-isolation unit. Exactly one per Organization, created
// at registration, never deleted while any dependent record exists.
type Party struct {
	ID        id.PartyID `json:"id"`
	OrgID     id.OrgID   `json:"org_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// Contact is a person associated with exactly one Organization. The verified
// email is the identity claim used to resolve an authenticated caller to a
// Party at login time.
type Contact struct {
	ID        id.ContactID `json:"id"`
	OrgID     id.OrgID     `json:"org_id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	CreatedAt time.Time    `json:"created_at"`
}

// Endpoint is a member-declared network address plus capability set, owned by
// exactly one Organization and reviewed by an operator before credentials are
// issued against it.
type Endpoint struct {
	ID           id.EndpointID `json:"id"`
	OrgID        id.OrgID      `json:"org_id"`
	Address      string        `json:"address"`
	Capabilities []string      `json:"capabilities"`
	Reviewed     bool          `json:"reviewed"`
	ReviewedBy   id.ActorID    `json:"reviewed_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewOrganization validates input and constructs an Organization with its
// canonical identifier derived from the first registry identifier.
func NewOrganization(orgID id.OrgID, partyID id.PartyID, legalName string, identifiers []RegistryIdentifier, now time.Time) (*Organization, error) {
	legalName = strings.TrimSpace(legalName)
	if legalName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "legal name is required")
	}
	if len(legalName) > 256 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "legal name exceeds 256 characters")
	}
	if len(identifiers) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one registry identifier is required")
	}
	for _, ri := range identifiers {
		if strings.TrimSpace(ri.Identifier) == "" || strings.TrimSpace(ri.CountryCode) == "" {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "registry identifier and country code are required")
		}
	}

	return &Organization{
		ID:                  orgID,
		PartyID:             partyID,
		LegalName:           legalName,
		Identifiers:         identifiers,
		CanonicalIdentifier: CanonicalIdentifier(identifiers[0]),
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// CanonicalIdentifier normalizes a registry identifier for uniqueness checks:
// country code plus the identifier, uppercased, punctuation and spacing
// stripped. "nl 1234-5678" and "NL12345678" collide on purpose.
func CanonicalIdentifier(ri RegistryIdentifier) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(ri.CountryCode + ri.Identifier) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewEndpoint validates and constructs an Endpoint.
func NewEndpoint(endpointID id.EndpointID, orgID id.OrgID, address string, capabilities []string, now time.Time) (*Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "endpoint address is required")
	}
	if len(capabilities) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "endpoint must declare at least one capability")
	}
	return &Endpoint{
		ID:           endpointID,
		OrgID:        orgID,
		Address:      address,
		Capabilities: capabilities,
		CreatedAt:    now,
	}, nil
}
