// Package guard is the authorization choke point: token verification, party
// resolution, role checks, ownership checks and the audit trail for every
// decision. Denied ownership checks are reported as not-found so callers
// cannot enumerate foreign resources.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"membergate/internal/audit"
	"membergate/internal/platform/metrics"
	"membergate/internal/token"
	domain "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

// PartyResolver maps a verified identity to a registered Party. The contact
// email is the join key between the identity provider and the registry.
type PartyResolver interface {
	ResolvePartyByEmail(ctx context.Context, email string) (domain.PartyID, domain.OrgID, error)
}

// AuditPublisher records authorization decisions. Emit must persist the entry
// before returning; the guard fails closed if it cannot.
type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Entry) error
}

// Resource identifies the object an operation targets, with enough ownership
// information for the tenant check.
type Resource struct {
	Type     string
	ID       string
	OwnerOrg domain.OrgID
}

type Guard struct {
	verifier *token.Verifier
	resolver PartyResolver
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Guard)

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func New(verifier *token.Verifier, resolver PartyResolver, auditor AuditPublisher, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		verifier: verifier,
		resolver: resolver,
		auditor:  auditor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate verifies the bearer token and returns the identity it asserts.
// Any verification failure is unauthenticated; the caller learns nothing about
// which check failed beyond token expiry.
func (g *Guard) Authenticate(ctx context.Context, authorization string) (token.Identity, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return token.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "missing bearer token")
	}
	identity, err := g.verifier.Verify(raw)
	if err != nil {
		return token.Identity{}, err
	}
	return identity, nil
}

// ResolveCaller builds the request Caller from a verified identity. Platform
// roles (operator, auditor) come from the token; membership comes from party
// resolution against the registry. An identity with neither a platform role
// nor a registered party is a distinct condition from a bad token: the token
// was valid, the person is simply not provisioned.
func (g *Guard) ResolveCaller(ctx context.Context, identity token.Identity) (requestcontext.Caller, error) {
	caller := requestcontext.Caller{
		ActorID: domain.ActorID(identity.Subject),
		Email:   identity.Email,
		Roles:   platformRoles(identity.Roles),
	}

	partyID, orgID, err := g.resolver.ResolvePartyByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		caller.PartyID = partyID
		caller.OrgID = orgID
		caller.Roles = append(caller.Roles, requestcontext.RoleMember)
	case errors.Is(err, sentinel.ErrNotFound):
		if len(caller.Roles) == 0 {
			return requestcontext.Caller{}, dErrors.New(dErrors.CodePartyUnresolved, "identity is not linked to a registered party")
		}
	default:
		return requestcontext.Caller{}, dErrors.Wrap(err, dErrors.CodeInternal, "resolve party")
	}
	return caller, nil
}

// Authorize applies the static role table and, for resource-scoped operations,
// the tenant ownership check. Every decision is written to the audit log
// before the result is returned; if the audit write fails the operation is
// denied regardless of the decision.
func (g *Guard) Authorize(ctx context.Context, caller requestcontext.Caller, perm Permission, res *Resource) error {
	decision := g.decide(caller, perm, res)

	entry := audit.Entry{
		ActorID: caller.ActorID,
		PartyID: caller.PartyID,
		Action:  audit.ActionAuthorize,
		Result:  audit.ResultAllowed,
		Reason:  string(perm),
	}
	if res != nil {
		entry.ResourceType = res.Type
		entry.ResourceID = res.ID
	}
	if decision != nil {
		entry.Result = audit.ResultDenied
		entry.Reason = string(perm) + ": " + dErrors.MessageOf(decision)
	}
	if err := g.auditor.Emit(ctx, entry); err != nil {
		g.logger.ErrorContext(ctx, "audit write failed, denying request",
			slog.String("permission", string(perm)),
			slog.String("error", err.Error()))
		g.metrics.ObserveAuthzDecision("error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "authorization audit unavailable")
	}

	if decision != nil {
		g.metrics.ObserveAuthzDecision("denied")
		return decision
	}
	g.metrics.ObserveAuthzDecision("allowed")
	return nil
}

// decide computes the raw decision without side effects.
func (g *Guard) decide(caller requestcontext.Caller, perm Permission, res *Resource) error {
	if !roleGrants(caller.Roles, perm) {
		return dErrors.New(dErrors.CodeForbidden, "permission denied")
	}
	if res == nil || caller.IsOperator() {
		return nil
	}
	if res.OwnerOrg.IsNil() || caller.OrgID.IsNil() || res.OwnerOrg != caller.OrgID {
		// Foreign resources are indistinguishable from absent ones.
		return dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	return nil
}

func platformRoles(claims []string) []requestcontext.Role {
	var roles []requestcontext.Role
	for _, claim := range claims {
		switch requestcontext.Role(claim) {
		case requestcontext.RoleOperator:
			roles = append(roles, requestcontext.RoleOperator)
		case requestcontext.RoleAuditor:
			roles = append(roles, requestcontext.RoleAuditor)
		}
	}
	return roles
}
