package vault

import (
	"time"

	"github.com/google/uuid"

	id "membergate/pkg/domain"
)

// OwnerType says what a credential is bound to.
type OwnerType string

const (
	// OwnerEndpoint binds a credential to a single registered Endpoint.
	OwnerEndpoint OwnerType = "endpoint"
	// OwnerOrganization binds a credential to an Organization for M2M access.
	OwnerOrganization OwnerType = "organization"
)

// Owner identifies what a credential authenticates as.
type Owner struct {
	Type OwnerType `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// Credential is the persisted record of an issued secret. Only the salted
// hash is stored; the plaintext is returned once at issuance and is
// unrecoverable afterwards. Revocation is one-way.
type Credential struct {
	ID         id.CredentialID `json:"id"`
	Owner      Owner           `json:"owner"`
	SecretHash string          `json:"-"`
	Scopes     []string        `json:"scopes"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"` // zero means no expiry
	Revoked    bool            `json:"revoked"`
	RevokedAt  time.Time       `json:"revoked_at,omitempty"`
}

// Expired reports whether the credential is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
