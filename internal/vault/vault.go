// Package vault issues, validates, and revokes opaque machine credentials.
//
// Issuance is not a standalone operation: it is reachable only through the
// onboarding credential-issuance transition or an authorized rotation call,
// both of which run behind the guard.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"membergate/internal/audit"
	"membergate/internal/platform/metrics"
	"membergate/internal/vault/secrets"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

// secretPrefix tags presented secrets so the credential ID can be recovered
// without scanning every stored hash.
const secretPrefix = "mg_"

// Store persists credentials. MarkRevoked is one-way; no store exposes an
// un-revoke.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	FindByID(ctx context.Context, credentialID id.CredentialID) (*Credential, error)
	ListByOwner(ctx context.Context, owner Owner) ([]*Credential, error)
	MarkRevoked(ctx context.Context, credentialID id.CredentialID, at time.Time) error
}

// RevocationCache is an optional fast path for revocation checks, shared
// across instances. The store remains the source of truth.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, credentialID id.CredentialID) error
	IsRevoked(ctx context.Context, credentialID id.CredentialID) (bool, error)
}

// AuditPublisher records issuance and revocation.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Vault is the credential service.
type Vault struct {
	store   Store
	source  secrets.Source
	cache   RevocationCache
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Vault.
type Option func(*Vault)

// WithRevocationCache attaches a shared revocation cache.
func WithRevocationCache(cache RevocationCache) Option {
	return func(v *Vault) { v.cache = cache }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// New constructs a Vault. The secrets.Source parameter is the only way
// randomness enters this package.
func New(store Store, source secrets.Source, auditor AuditPublisher, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{store: store, source: source, auditor: auditor, logger: logger}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issue mints a credential for the owner. The returned plaintext is the only
// copy that will ever exist; the caller must deliver it immediately.
func (v *Vault) Issue(ctx context.Context, owner Owner, scopes []string, expiresAt time.Time) (string, *Credential, error) {
	if owner.ID == uuid.Nil {
		return "", nil, dErrors.New(dErrors.CodeValidation, "credential owner is required")
	}
	if len(scopes) == 0 {
		return "", nil, dErrors.New(dErrors.CodeValidation, "at least one scope is required")
	}

	secret, err := v.source.Generate()
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate secret")
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash secret")
	}

	cred := &Credential{
		ID:         id.NewCredentialID(),
		Owner:      owner,
		SecretHash: hash,
		Scopes:     scopes,
		CreatedAt:  requestcontext.Now(ctx),
		ExpiresAt:  expiresAt,
	}
	if err := v.store.Create(ctx, cred); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}
	v.metrics.IncrementCredentialsIssued()

	if err := v.emitAudit(ctx, audit.ActionCredentialIssue, cred, audit.ResultAllowed, ""); err != nil {
		return "", nil, err
	}

	plaintext := secretPrefix + cred.ID.String() + "." + secret
	return plaintext, cred, nil
}

// Revoke permanently invalidates a credential. Revoking an already-revoked
// credential succeeds without a second checkpoint; there is no un-revoke.
func (v *Vault) Revoke(ctx context.Context, credentialID id.CredentialID) error {
	cred, err := v.store.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	if cred.Revoked {
		return nil
	}

	if err := v.store.MarkRevoked(ctx, credentialID, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credential")
	}
	v.metrics.IncrementCredentialsRevoked()

	if v.cache != nil {
		if err := v.cache.MarkRevoked(ctx, credentialID); err != nil {
			// Store is the source of truth; a cache miss only costs a lookup.
			v.logger.WarnContext(ctx, "revocation cache write failed",
				"credential_id", credentialID,
				"error", err,
			)
		}
	}

	cred.Revoked = true
	return v.emitAudit(ctx, audit.ActionCredentialRevoke, cred, audit.ResultAllowed, "")
}

// Validate checks a presented secret and returns the owner it authenticates.
// Every failure mode — unknown ID, wrong secret, revoked, expired — returns
// the same invalid-credential error so the response does not distinguish
// which guess was close. The hash comparison is constant-time.
func (v *Vault) Validate(ctx context.Context, presented string) (Owner, error) {
	invalid := dErrors.New(dErrors.CodeUnauthenticated, "invalid credential")

	credentialID, secret, ok := splitSecret(presented)
	if !ok {
		v.observeValidation("malformed")
		return Owner{}, invalid
	}

	if v.cache != nil {
		if revoked, err := v.cache.IsRevoked(ctx, credentialID); err == nil && revoked {
			v.observeValidation("revoked")
			return Owner{}, invalid
		}
	}

	cred, err := v.store.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			v.observeValidation("unknown")
			return Owner{}, invalid
		}
		return Owner{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}

	if cred.Revoked {
		v.observeValidation("revoked")
		return Owner{}, invalid
	}
	if cred.Expired(requestcontext.Now(ctx)) {
		v.observeValidation("expired")
		return Owner{}, invalid
	}
	if err := secrets.Verify(secret, cred.SecretHash); err != nil {
		v.observeValidation("mismatch")
		return Owner{}, invalid
	}

	v.observeValidation("valid")
	return cred.Owner, nil
}

// Get returns credential metadata. The secret hash is not serialized and the
// plaintext does not exist anywhere to return.
func (v *Vault) Get(ctx context.Context, credentialID id.CredentialID) (*Credential, error) {
	cred, err := v.store.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return cred, nil
}

// Rotate revokes the credential and issues a replacement with the same owner
// and scopes.
func (v *Vault) Rotate(ctx context.Context, credentialID id.CredentialID, expiresAt time.Time) (string, *Credential, error) {
	cred, err := v.Get(ctx, credentialID)
	if err != nil {
		return "", nil, err
	}
	if err := v.Revoke(ctx, credentialID); err != nil {
		return "", nil, err
	}
	return v.Issue(ctx, cred.Owner, cred.Scopes, expiresAt)
}

func splitSecret(presented string) (id.CredentialID, string, bool) {
	rest, found := strings.CutPrefix(presented, secretPrefix)
	if !found {
		return id.CredentialID{}, "", false
	}
	idPart, secret, found := strings.Cut(rest, ".")
	if !found || secret == "" {
		return id.CredentialID{}, "", false
	}
	credentialID, err := id.ParseCredentialID(idPart)
	if err != nil {
		return id.CredentialID{}, "", false
	}
	return credentialID, secret, true
}

func (v *Vault) observeValidation(result string) {
	v.metrics.ObserveCredentialValidation(result)
}

func (v *Vault) emitAudit(ctx context.Context, action string, cred *Credential, result audit.Result, reason string) error {
	caller, _ := requestcontext.CallerFrom(ctx)
	return v.auditor.Emit(ctx, audit.Entry{
		ActorID:      caller.ActorID,
		PartyID:      caller.PartyID,
		Action:       action,
		ResourceType: "credential",
		ResourceID:   cred.ID.String(),
		Result:       result,
		Reason:       reason,
	})
}
