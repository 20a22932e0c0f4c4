package verification

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"membergate/internal/audit"
	"membergate/internal/org"
	"membergate/internal/platform/metrics"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/retry"
	"membergate/pkg/platform/sentinel"
	"membergate/pkg/requestcontext"
)

// CaseStore persists verification cases. UpdateIf is a conditional update on
// the current sub-state so two concurrent processors cannot both win.
type CaseStore interface {
	Create(ctx context.Context, c *Case) error
	FindByID(ctx context.Context, caseID id.CaseID) (*Case, error)
	FindByOrg(ctx context.Context, orgID id.OrgID) ([]*Case, error)
	UpdateIf(ctx context.Context, c *Case, from SubState) error
}

// OrgDirectory is the narrow slice of the organization store the workflow
// needs for cross-checking.
type OrgDirectory interface {
	FindByID(ctx context.Context, orgID id.OrgID) (*org.Organization, error)
}

// AuditPublisher records verification decisions.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service drives a document case through ingestion, extraction, cross-check,
// and decision.
type Service struct {
	cases      CaseStore
	orgs       OrgDirectory
	extractor  Extractor
	registry   RegistryLookup
	auditor    AuditPublisher
	thresholds Thresholds
	retries    retry.Policy
	maxRetries int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithThresholds overrides the default auto-decision thresholds.
func WithThresholds(t Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// WithRetryPolicy overrides the collaborator retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.retries = p }
}

// WithMaxExtractionRetries bounds how often a stuck Submitted case may be
// re-processed before the request is refused outright.
func WithMaxExtractionRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the verification workflow service.
func NewService(cases CaseStore, orgs OrgDirectory, extractor Extractor, registry RegistryLookup, auditor AuditPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cases:      cases,
		orgs:       orgs,
		extractor:  extractor,
		registry:   registry,
		auditor:    auditor,
		thresholds: DefaultThresholds(),
		retries:    retry.DefaultPolicy(),
		maxRetries: 3,
		logger:     logger,
		tracer:     otel.Tracer("membergate/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit opens a case for an uploaded document. Ownership of orgID has
// already been enforced by the guard; the submitter identity is recorded for
// the separation-of-duties check at review time.
func (s *Service) Submit(ctx context.Context, orgID id.OrgID, submitter id.ActorID, document []byte) (*Case, error) {
	if _, err := s.orgs.FindByID(ctx, orgID); err != nil {
		return nil, translateStoreErr(err, "organization")
	}

	c, err := NewCase(id.NewCaseID(), orgID, submitter, document, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification case")
	}
	return c, nil
}

// Process advances a case through extraction, cross-check, and automatic
// decision. Re-processing a case that already reached Flagged or a terminal
// sub-state returns it unchanged. A lost CAS race surfaces as
// CodeInvalidTransition.
func (s *Service) Process(ctx context.Context, caseID id.CaseID) (*Case, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Process",
		trace.WithAttributes(attribute.String("case_id", caseID.String())))
	defer span.End()

	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		return nil, translateStoreErr(err, "verification case")
	}

	if c.SubState == SubStateFlagged || c.SubState.IsTerminal() {
		return c, nil
	}

	if c.SubState == SubStateSubmitted {
		if c, err = s.runExtraction(ctx, c); err != nil {
			return nil, err
		}
	}
	if c.SubState == SubStateExtracted {
		if c, err = s.runCrossCheck(ctx, c); err != nil {
			return nil, err
		}
	}
	if c.SubState == SubStateCrossChecked {
		if c, err = s.autoDecide(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Service) runExtraction(ctx context.Context, c *Case) (*Case, error) {
	if c.ExtractionRetries >= s.maxRetries {
		return nil, dErrors.New(dErrors.CodeValidation, "extraction retry limit reached for this case")
	}

	var result Extraction
	err := retry.Do(ctx, s.retries, func(ctx context.Context) error {
		var callErr error
		result, callErr = s.extractor.Extract(ctx, c.Document)
		return callErr
	})
	if err != nil {
		// Case stays Submitted and remains eligible for a bounded number of
		// further attempts.
		c.ExtractionRetries++
		if storeErr := s.cases.UpdateIf(ctx, c, SubStateSubmitted); storeErr != nil {
			return nil, translateCASErr(storeErr, SubStateSubmitted, SubStateSubmitted)
		}
		s.logger.WarnContext(ctx, "document extraction unavailable",
			"case_id", c.ID,
			"retries", c.ExtractionRetries,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "verification temporarily unavailable, retry later")
	}

	c.Fields = result.Fields
	c.Confidence = result.Confidence
	c.SubState = SubStateExtracted
	c.ExtractedAt = requestcontext.Now(ctx)
	if err := s.cases.UpdateIf(ctx, c, SubStateSubmitted); err != nil {
		return nil, translateCASErr(err, SubStateSubmitted, SubStateExtracted)
	}
	return c, nil
}

func (s *Service) runCrossCheck(ctx context.Context, c *Case) (*Case, error) {
	o, err := s.orgs.FindByID(ctx, c.OrgID)
	if err != nil {
		return nil, translateStoreErr(err, "organization")
	}

	record, err := s.lookupAuthority(ctx, c, o)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "verification temporarily unavailable, retry later")
	}

	extracted := org.CanonicalIdentifier(org.RegistryIdentifier{
		Identifier:  c.Fields.RegistryNumber,
		CountryCode: c.Fields.CountryCode,
	})
	c.Match = MatchResult{
		IdentifierExact: extracted != "" && extracted == o.CanonicalIdentifier,
		NameSimilarity:  NameSimilarity(c.Fields.LegalName, record.OfficialName),
		EntityActive:    record.Active,
		OfficialName:    record.OfficialName,
	}
	c.SubState = SubStateCrossChecked
	c.CrossCheckedAt = requestcontext.Now(ctx)
	if err := s.cases.UpdateIf(ctx, c, SubStateExtracted); err != nil {
		return nil, translateCASErr(err, SubStateExtracted, SubStateCrossChecked)
	}
	return c, nil
}

// lookupAuthority queries the registry for the declared identifier and, when
// the document extracted a different one, for that too, in parallel. The
// declared identifier's record wins; the extracted one is a fallback so a
// document naming an unknown-to-us registry entry still gets scored.
func (s *Service) lookupAuthority(ctx context.Context, c *Case, o *org.Organization) (RegistryRecord, error) {
	declared := o.Identifiers[0]

	lookup := func(identifier, country string, out *RegistryRecord, errOut *error) func() error {
		return func() error {
			*errOut = retry.Do(ctx, s.retries, func(ctx context.Context) error {
				rec, err := s.registry.Lookup(ctx, identifier, country)
				if err != nil {
					return err
				}
				*out = rec
				return nil
			})
			return nil // individual failures handled below
		}
	}

	var (
		declaredRec, extractedRec RegistryRecord
		declaredErr, extractedErr error
		g                         errgroup.Group
	)
	g.Go(lookup(declared.Identifier, declared.CountryCode, &declaredRec, &declaredErr))

	wantExtracted := c.Fields.RegistryNumber != "" &&
		org.CanonicalIdentifier(org.RegistryIdentifier{Identifier: c.Fields.RegistryNumber, CountryCode: c.Fields.CountryCode}) != o.CanonicalIdentifier
	if wantExtracted {
		g.Go(lookup(c.Fields.RegistryNumber, c.Fields.CountryCode, &extractedRec, &extractedErr))
	}
	_ = g.Wait()

	if declaredErr == nil {
		return declaredRec, nil
	}
	if wantExtracted && extractedErr == nil {
		return extractedRec, nil
	}
	return RegistryRecord{}, declaredErr
}

func (s *Service) autoDecide(ctx context.Context, c *Case) (*Case, error) {
	outcome, reason := Decide(c.Match, s.thresholds)
	c.SubState = outcome
	c.DecisionReason = reason
	c.DecidedAt = requestcontext.Now(ctx)
	if err := s.cases.UpdateIf(ctx, c, SubStateCrossChecked); err != nil {
		return nil, translateCASErr(err, SubStateCrossChecked, outcome)
	}

	s.metrics.ObserveVerificationOutcome(string(outcome))
	if err := s.auditor.Emit(ctx, audit.Entry{
		ActorID:      c.SubmitterID,
		Action:       audit.ActionVerificationDecision,
		ResourceType: "verification_case",
		ResourceID:   c.ID.String(),
		Result:       audit.ResultAllowed,
		Reason:       string(outcome) + ": " + reason,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Review resolves a Flagged case. Only a platform operator may do this, and
// the reviewer must differ from the original submitter — the two-person
// integrity checkpoint. A Flagged case is never promoted any other way.
func (s *Service) Review(ctx context.Context, caseID id.CaseID, verified bool, reason string) (*Case, error) {
	caller, ok := requestcontext.CallerFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	if !caller.IsOperator() {
		return nil, dErrors.New(dErrors.CodeForbidden, "operator role required to review a flagged case")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "review reason is required")
	}

	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		return nil, translateStoreErr(err, "verification case")
	}
	if c.SubState != SubStateFlagged {
		return nil, InvalidTransitionError(c.SubState, reviewTarget(verified))
	}
	if caller.ActorID == c.SubmitterID {
		return nil, dErrors.New(dErrors.CodeForbidden, "reviewer must differ from the case submitter")
	}

	target := reviewTarget(verified)
	c.SubState = target
	c.DecisionReason = reason
	c.ReviewerID = caller.ActorID
	c.DecidedAt = requestcontext.Now(ctx)
	if err := s.cases.UpdateIf(ctx, c, SubStateFlagged); err != nil {
		return nil, translateCASErr(err, SubStateFlagged, target)
	}

	s.metrics.ObserveVerificationOutcome(string(target))
	if err := s.auditor.Emit(ctx, audit.Entry{
		ActorID:      caller.ActorID,
		Action:       audit.ActionVerificationDecision,
		ResourceType: "verification_case",
		ResourceID:   c.ID.String(),
		Result:       audit.ResultAllowed,
		Reason:       string(target) + ": " + reason,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a case by ID.
func (s *Service) Get(ctx context.Context, caseID id.CaseID) (*Case, error) {
	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		return nil, translateStoreErr(err, "verification case")
	}
	return c, nil
}

// LatestForOrg returns the most recently decided case for an organization, or
// nil when none exists. The onboarding approval gate uses this.
func (s *Service) LatestForOrg(ctx context.Context, orgID id.OrgID) (*Case, error) {
	cases, err := s.cases.FindByOrg(ctx, orgID)
	if err != nil {
		return nil, translateStoreErr(err, "verification cases")
	}
	var latest *Case
	for _, c := range cases {
		if latest == nil || c.SubmittedAt.After(latest.SubmittedAt) {
			latest = c
		}
	}
	return latest, nil
}

// HasVerifiedCase reports whether the organization's most recent case reached
// Verified. The onboarding approval transition gates on this.
func (s *Service) HasVerifiedCase(ctx context.Context, orgID id.OrgID) (bool, error) {
	latest, err := s.LatestForOrg(ctx, orgID)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.SubState == SubStateVerified, nil
}

func reviewTarget(verified bool) SubState {
	if verified {
		return SubStateVerified
	}
	return SubStateFailed
}

func translateStoreErr(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}

func translateCASErr(err error, from, to SubState) error {
	if errors.Is(err, sentinel.ErrStaleState) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"verification case changed concurrently while moving %s to %s", from, to)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification case")
}
