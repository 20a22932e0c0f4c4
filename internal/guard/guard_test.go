package guard

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/audit"
	auditmem "membergate/internal/audit/store/memory"
	"membergate/internal/token"
	domain "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

type stubResolver struct {
	byEmail map[string]resolved
	err     error
}

type resolved struct {
	party domain.PartyID
	org   domain.OrgID
}

func (s *stubResolver) ResolvePartyByEmail(_ context.Context, email string) (domain.PartyID, domain.OrgID, error) {
	if s.err != nil {
		return domain.PartyID{}, domain.OrgID{}, s.err
	}
	r, ok := s.byEmail[email]
	if !ok {
		return domain.PartyID{}, domain.OrgID{}, sentinel.ErrNotFound
	}
	return r.party, r.org, nil
}

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.Entry) error {
	return errors.New("store down")
}

func testVerifier() *token.Verifier {
	return token.NewVerifier("test-signing-key", "membergate-test", "membergate-api")
}

func newTestGuard(t *testing.T, resolver PartyResolver) (*Guard, *auditmem.Store) {
	t.Helper()
	store := auditmem.New()
	return New(testVerifier(), resolver, audit.NewPublisher(store), slog.Default()), store
}

func signToken(t *testing.T, subject uuid.UUID, email string, roles []string) string {
	t.Helper()
	raw, err := testVerifier().Sign(token.Identity{Subject: subject, Email: email, Roles: roles}, time.Hour)
	require.NoError(t, err)
	return raw
}

func TestAuthenticate(t *testing.T) {
	g, _ := newTestGuard(t, &stubResolver{})
	subject := uuid.New()

	t.Run("valid bearer token", func(t *testing.T) {
		raw := signToken(t, subject, "ops@example.com", []string{"operator"})
		identity, err := g.Authenticate(context.Background(), "Bearer "+raw)
		require.NoError(t, err)
		assert.Equal(t, subject, identity.Subject)
		assert.Equal(t, "ops@example.com", identity.Email)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := g.Authenticate(context.Background(), "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, err := g.Authenticate(context.Background(), "Basic abc123")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := g.Authenticate(context.Background(), "Bearer not.a.token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})
}

func TestResolveCaller(t *testing.T) {
	partyID := domain.NewPartyID()
	orgID := domain.NewOrgID()
	resolver := &stubResolver{byEmail: map[string]resolved{
		"member@acme.example": {party: partyID, org: orgID},
	}}
	g, _ := newTestGuard(t, resolver)

	t.Run("registered party becomes member", func(t *testing.T) {
		caller, err := g.ResolveCaller(context.Background(), token.Identity{
			Subject: uuid.New(),
			Email:   "member@acme.example",
		})
		require.NoError(t, err)
		assert.Equal(t, partyID, caller.PartyID)
		assert.Equal(t, orgID, caller.OrgID)
		assert.True(t, caller.HasRole(requestcontext.RoleMember))
		assert.False(t, caller.IsOperator())
	})

	t.Run("operator needs no party", func(t *testing.T) {
		caller, err := g.ResolveCaller(context.Background(), token.Identity{
			Subject: uuid.New(),
			Email:   "ops@example.com",
			Roles:   []string{"operator"},
		})
		require.NoError(t, err)
		assert.True(t, caller.PartyID.IsNil())
		assert.True(t, caller.IsOperator())
	})

	t.Run("valid token without party or platform role is unresolved, not unauthenticated", func(t *testing.T) {
		_, err := g.ResolveCaller(context.Background(), token.Identity{
			Subject: uuid.New(),
			Email:   "stranger@example.com",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodePartyUnresolved))
		assert.False(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("resolver outage is internal", func(t *testing.T) {
		broken, _ := newTestGuard(t, &stubResolver{err: errors.New("db down")})
		_, err := broken.ResolveCaller(context.Background(), token.Identity{
			Subject: uuid.New(),
			Email:   "member@acme.example",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestAuthorize(t *testing.T) {
	g, store := newTestGuard(t, &stubResolver{})
	orgID := domain.NewOrgID()

	member := requestcontext.Caller{
		ActorID: domain.NewActorID(),
		PartyID: domain.NewPartyID(),
		OrgID:   orgID,
		Roles:   []requestcontext.Role{requestcontext.RoleMember},
	}
	operator := requestcontext.Caller{
		ActorID: domain.NewActorID(),
		Roles:   []requestcontext.Role{requestcontext.RoleOperator},
	}

	t.Run("member allowed on own resource", func(t *testing.T) {
		err := g.Authorize(context.Background(), member, PermEndpointSubmit, &Resource{
			Type: "organization", ID: orgID.String(), OwnerOrg: orgID,
		})
		assert.NoError(t, err)
	})

	t.Run("member denied permission outside role", func(t *testing.T) {
		err := g.Authorize(context.Background(), member, PermOrgApprove, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("auditor cannot mutate", func(t *testing.T) {
		auditor := requestcontext.Caller{
			ActorID: domain.NewActorID(),
			Roles:   []requestcontext.Role{requestcontext.RoleAuditor},
		}
		assert.NoError(t, g.Authorize(context.Background(), auditor, PermAuditRead, nil))
		err := g.Authorize(context.Background(), auditor, PermCredentialRevoke, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("operator bypasses ownership", func(t *testing.T) {
		err := g.Authorize(context.Background(), operator, PermOrgApprove, &Resource{
			Type: "organization", ID: orgID.String(), OwnerOrg: orgID,
		})
		assert.NoError(t, err)
	})

	t.Run("every decision is audited", func(t *testing.T) {
		before := store.Len()
		_ = g.Authorize(context.Background(), member, PermEndpointSubmit, nil)
		_ = g.Authorize(context.Background(), member, PermOrgApprove, nil)
		assert.Equal(t, before+2, store.Len())

		entries, err := store.Query(context.Background(), audit.Filter{Limit: 2})
		require.NoError(t, err)
		results := []audit.Result{entries[0].Result, entries[1].Result}
		assert.Contains(t, results, audit.ResultAllowed)
		assert.Contains(t, results, audit.ResultDenied)
	})

	t.Run("audit failure denies even a valid request", func(t *testing.T) {
		closed := New(testVerifier(), &stubResolver{}, failingAuditor{}, slog.Default())
		err := closed.Authorize(context.Background(), operator, PermOrgApprove, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// A member probing someone else's resource must get a response identical to
// probing a resource that does not exist at all.
func TestAuthorizeCrossTenantIndistinguishable(t *testing.T) {
	g, _ := newTestGuard(t, &stubResolver{})
	member := requestcontext.Caller{
		ActorID: domain.NewActorID(),
		PartyID: domain.NewPartyID(),
		OrgID:   domain.NewOrgID(),
		Roles:   []requestcontext.Role{requestcontext.RoleMember},
	}

	foreign := g.Authorize(context.Background(), member, PermOrgRead, &Resource{
		Type: "organization", ID: domain.NewOrgID().String(), OwnerOrg: domain.NewOrgID(),
	})
	absent := g.Authorize(context.Background(), member, PermOrgRead, &Resource{
		Type: "organization", ID: domain.NewOrgID().String(),
	})

	require.Error(t, foreign)
	require.Error(t, absent)
	assert.Equal(t, dErrors.CodeOf(foreign), dErrors.CodeOf(absent))
	assert.Equal(t, dErrors.MessageOf(foreign), dErrors.MessageOf(absent))
}
