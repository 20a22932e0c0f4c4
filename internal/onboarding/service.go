package onboarding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"membergate/internal/audit"
	"membergate/internal/org"
	"membergate/internal/platform/metrics"
	"membergate/internal/vault"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

// Store persists onboarding records. TransitionIf is a conditional update:
// the status change and the checkpoint append happen atomically, and the
// update applies only if the stored status still equals from. A concurrent
// writer that got there first surfaces as sentinel.ErrStaleState.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Find(ctx context.Context, orgID id.OrgID) (*Record, error)
	TransitionIf(ctx context.Context, orgID id.OrgID, from Status, cp Checkpoint) error
}

// EndpointDirectory answers endpoint questions without coupling this package
// to the registry service implementation.
type EndpointDirectory interface {
	CountEndpoints(ctx context.Context, orgID id.OrgID) (int, error)
	ReviewedEndpoints(ctx context.Context, orgID id.OrgID) ([]*org.Endpoint, error)
}

// VerificationGate reports whether an organization has passed document
// verification.
type VerificationGate interface {
	HasVerifiedCase(ctx context.Context, orgID id.OrgID) (bool, error)
}

// CredentialIssuer mints machine credentials. Satisfied by the vault.
type CredentialIssuer interface {
	Issue(ctx context.Context, owner vault.Owner, scopes []string, expiresAt time.Time) (string, *vault.Credential, error)
}

// Notifier delivers lifecycle notifications to the affected organization.
// Delivery is best-effort: a failed notification never rolls back a
// transition.
type Notifier interface {
	TransitionApplied(ctx context.Context, orgID id.OrgID, from, to Status, reason string)
}

// AuditPublisher records transitions in the audit log.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service drives the onboarding state machine. All writes go through the
// conditional update in the store, so two concurrent transitions on the same
// organization cannot both apply.
type Service struct {
	store     Store
	endpoints EndpointDirectory
	gate      VerificationGate
	issuer    CredentialIssuer
	notifier  Notifier
	auditor   AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	credentialTTL time.Duration
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCredentialTTL overrides the default lifetime of credentials issued at
// the CredentialsIssued transition.
func WithCredentialTTL(ttl time.Duration) Option {
	return func(s *Service) { s.credentialTTL = ttl }
}

func NewService(store Store, endpoints EndpointDirectory, gate VerificationGate, issuer CredentialIssuer, notifier Notifier, auditor AuditPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		endpoints:     endpoints,
		gate:          gate,
		issuer:        issuer,
		notifier:      notifier,
		auditor:       auditor,
		logger:        logger,
		tracer:        otel.Tracer("membergate/onboarding"),
		credentialTTL: 90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the lifecycle record for a freshly registered organization.
func (s *Service) Start(ctx context.Context, orgID id.OrgID) error {
	rec := NewRecord(orgID, requestcontext.Now(ctx))
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "onboarding record already exists")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create onboarding record")
	}
	return nil
}

// Get returns the onboarding record for an organization.
func (s *Service) Get(ctx context.Context, orgID id.OrgID) (*Record, error) {
	rec, err := s.store.Find(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "onboarding record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find onboarding record")
	}
	return rec, nil
}

// ApproveCompany moves Registered → CompanyApproved. The organization must
// hold a verified document case, unless the operator explicitly overrides
// with a reason.
func (s *Service) ApproveCompany(ctx context.Context, orgID id.OrgID, override bool, reason string) error {
	ctx, span := s.tracer.Start(ctx, "onboarding.approve_company",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	if override {
		if strings.TrimSpace(reason) == "" {
			return dErrors.New(dErrors.CodeValidation, "an override approval requires a reason")
		}
	} else {
		verified, err := s.gate.HasVerifiedCase(ctx, orgID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "check verification status")
		}
		if !verified {
			return dErrors.New(dErrors.CodeInvalidTransition, "company approval requires a verified document case")
		}
	}
	return s.apply(ctx, orgID, StatusCompanyApproved, reason, false)
}

// SubmitEndpoints moves CompanyApproved → EndpointsSubmitted. At least one
// endpoint must have been declared.
func (s *Service) SubmitEndpoints(ctx context.Context, orgID id.OrgID) error {
	ctx, span := s.tracer.Start(ctx, "onboarding.submit_endpoints",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	n, err := s.endpoints.CountEndpoints(ctx, orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "count endpoints")
	}
	if n == 0 {
		return dErrors.New(dErrors.CodeInvalidTransition, "at least one endpoint must be declared before submission")
	}
	return s.apply(ctx, orgID, StatusEndpointsSubmitted, "", false)
}

// IssuedCredential pairs an endpoint with its one-time plaintext secret. The
// plaintext exists only in this response; it is never persisted and never
// retrievable again.
type IssuedCredential struct {
	EndpointID id.EndpointID     `json:"endpoint_id"`
	Credential *vault.Credential `json:"credential"`
	Secret     string            `json:"secret"`
}

// IssueCredentials moves EndpointsSubmitted → CredentialsIssued and mints one
// credential per reviewed endpoint. The conditional status update runs first,
// so concurrent calls cannot double-issue: only the transition winner reaches
// the vault. A redelivered request after the transition already landed succeeds
// with nothing issued; the plaintexts were handed out exactly once, on the
// winning call.
func (s *Service) IssueCredentials(ctx context.Context, orgID id.OrgID) ([]IssuedCredential, error) {
	ctx, span := s.tracer.Start(ctx, "onboarding.issue_credentials",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	reviewed, err := s.endpoints.ReviewedEndpoints(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list reviewed endpoints")
	}
	if len(reviewed) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "credential issuance requires at least one reviewed endpoint")
	}

	applied, err := s.transition(ctx, orgID, StatusCredentialsIssued, "", false)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Already in CredentialsIssued: a retried or redelivered request.
		// The secrets left the building on the original call; minting again
		// would silently invalidate nothing and leak fresh live credentials.
		return []IssuedCredential{}, nil
	}

	now := requestcontext.Now(ctx)
	issued := make([]IssuedCredential, 0, len(reviewed))
	for _, endpoint := range reviewed {
		owner := vault.Owner{Type: vault.OwnerEndpoint, ID: uuid.UUID(endpoint.ID)}
		secret, cred, err := s.issuer.Issue(ctx, owner, endpoint.Capabilities, now.Add(s.credentialTTL))
		if err != nil {
			// The transition already applied; surface the failure so the
			// operator can rotate the affected endpoint instead of rerunning
			// the whole step.
			s.logger.ErrorContext(ctx, "credential issuance failed after transition",
				slog.String("org_id", orgID.String()),
				slog.String("endpoint_id", endpoint.ID.String()),
				slog.String("error", err.Error()))
			return issued, dErrors.Wrap(err, dErrors.CodeInternal, "issue endpoint credential")
		}
		issued = append(issued, IssuedCredential{EndpointID: endpoint.ID, Credential: cred, Secret: secret})
	}
	return issued, nil
}

// RecordConnectivity moves CredentialsIssued → ConnectivityVerified on the
// member's own report. The claim is not independently probed; the checkpoint
// is marked self-reported so downstream reviewers can tell the difference.
func (s *Service) RecordConnectivity(ctx context.Context, orgID id.OrgID) error {
	ctx, span := s.tracer.Start(ctx, "onboarding.record_connectivity",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	return s.apply(ctx, orgID, StatusConnectivityVerified, "member reported successful connectivity", true)
}

// Activate moves ConnectivityVerified → Active.
func (s *Service) Activate(ctx context.Context, orgID id.OrgID) error {
	return s.apply(ctx, orgID, StatusActive, "", false)
}

// Reject terminally rejects an application. A reason is mandatory; the
// transition table only admits rejection before endpoints are submitted.
func (s *Service) Reject(ctx context.Context, orgID id.OrgID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection requires a reason")
	}
	return s.apply(ctx, orgID, StatusRejected, reason, false)
}

// Suspend moves Active → Suspended. A reason is mandatory.
func (s *Service) Suspend(ctx context.Context, orgID id.OrgID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "suspension requires a reason")
	}
	return s.apply(ctx, orgID, StatusSuspended, reason, false)
}

// Reinstate moves Suspended → Active, restoring the organization without
// repeating onboarding.
func (s *Service) Reinstate(ctx context.Context, orgID id.OrgID) error {
	return s.apply(ctx, orgID, StatusActive, "", false)
}

// apply runs a transition for callers that only care about success; the
// applied/replayed distinction matters solely where the transition gates a
// side effect.
func (s *Service) apply(ctx context.Context, orgID id.OrgID, to Status, reason string, selfReported bool) error {
	_, err := s.transition(ctx, orgID, to, reason, selfReported)
	return err
}

// transition applies one state change and reports whether it did. Requesting
// the state the organization is already in succeeds with applied=false and no
// new checkpoint; losing a concurrent race reports an invalid transition
// naming the state the winner left behind.
func (s *Service) transition(ctx context.Context, orgID id.OrgID, to Status, reason string, selfReported bool) (bool, error) {
	rec, err := s.Get(ctx, orgID)
	if err != nil {
		return false, err
	}
	if rec.Status == to {
		return false, nil // already there; retried requests are not errors
	}
	if !CanTransition(rec.Status, to) {
		s.metrics.ObserveInvalidTransition()
		s.auditTransition(ctx, orgID, rec.Status, to, audit.ResultDenied, reason)
		return false, InvalidTransitionError(rec.Status, to)
	}

	caller, _ := requestcontext.CallerFrom(ctx)
	cp := Checkpoint{
		ID:           uuid.New(),
		OrgID:        orgID,
		ActorID:      caller.ActorID,
		FromStatus:   rec.Status,
		ToStatus:     to,
		Reason:       strings.TrimSpace(reason),
		SelfReported: selfReported,
		Timestamp:    requestcontext.Now(ctx),
	}
	if err := s.store.TransitionIf(ctx, orgID, rec.Status, cp); err != nil {
		if errors.Is(err, sentinel.ErrStaleState) {
			s.metrics.ObserveInvalidTransition()
			current := rec.Status
			if fresh, ferr := s.store.Find(ctx, orgID); ferr == nil {
				current = fresh.Status
			}
			s.auditTransition(ctx, orgID, current, to, audit.ResultDenied, "lost concurrent transition")
			return false, InvalidTransitionError(current, to)
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "onboarding record not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "apply transition")
	}

	s.metrics.ObserveTransition(string(to))
	s.auditTransition(ctx, orgID, rec.Status, to, audit.ResultAllowed, reason)
	s.notifier.TransitionApplied(ctx, orgID, rec.Status, to, reason)

	s.logger.InfoContext(ctx, "onboarding transition applied",
		slog.String("org_id", orgID.String()),
		slog.String("from", string(rec.Status)),
		slog.String("to", string(to)))
	return true, nil
}

func (s *Service) auditTransition(ctx context.Context, orgID id.OrgID, from, to Status, result audit.Result, reason string) {
	caller, _ := requestcontext.CallerFrom(ctx)
	entry := audit.Entry{
		ActorID:      caller.ActorID,
		PartyID:      caller.PartyID,
		Action:       audit.ActionOrgTransition,
		ResourceType: "organization",
		ResourceID:   orgID.String(),
		Result:       result,
		Reason:       string(from) + " -> " + string(to),
	}
	if reason != "" {
		entry.Reason += ": " + reason
	}
	if err := s.auditor.Emit(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed for transition",
			slog.String("org_id", orgID.String()),
			slog.String("error", err.Error()))
	}
}
