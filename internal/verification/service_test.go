package verification_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"membergate/internal/audit"
	auditmem "membergate/internal/audit/store/memory"
	"membergate/internal/org"
	"membergate/internal/verification"
	"membergate/internal/verification/mocks"
	casemem "membergate/internal/verification/store/memory"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/retry"
	"membergate/pkg/requestcontext"
)

type stubOrgDir struct {
	org *org.Organization
}

func (d *stubOrgDir) FindByID(context.Context, id.OrgID) (*org.Organization, error) {
	return d.org, nil
}

type fixture struct {
	svc       *verification.Service
	extractor *mocks.MockExtractor
	registry  *mocks.MockRegistryLookup
	orgID     id.OrgID
	submitter id.ActorID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	orgID := id.NewOrgID()
	o, err := org.NewOrganization(orgID, id.NewPartyID(), "Acme B.V.",
		[]org.RegistryIdentifier{{Identifier: "12345678", CountryCode: "NL", Registry: "KVK"}}, time.Now())
	require.NoError(t, err)

	extractor := mocks.NewMockExtractor(ctrl)
	registry := mocks.NewMockRegistryLookup(ctrl)

	// One attempt per collaborator call keeps the mocks' call counts exact.
	fast := retry.Policy{MaxAttempts: 1, Initial: time.Millisecond, Max: time.Millisecond, CallTimeout: time.Second}

	svc := verification.NewService(casemem.New(), &stubOrgDir{org: o}, extractor, registry,
		audit.NewPublisher(auditmem.New()), slog.Default(),
		verification.WithRetryPolicy(fast))

	return &fixture{
		svc:       svc,
		extractor: extractor,
		registry:  registry,
		orgID:     orgID,
		submitter: id.NewActorID(),
	}
}

func (f *fixture) submit(t *testing.T) *verification.Case {
	t.Helper()
	c, err := f.svc.Submit(context.Background(), f.orgID, f.submitter, []byte("%PDF-1.7 extract-of-registration"))
	require.NoError(t, err)
	require.Equal(t, verification.SubStateSubmitted, c.SubState)
	return c
}

func matchingExtraction() verification.Extraction {
	return verification.Extraction{
		Fields: verification.ExtractedFields{
			LegalName:      "Acme B.V.",
			RegistryNumber: "12345678",
			CountryCode:    "NL",
			EntityStatus:   "active",
		},
		Confidence: 0.97,
	}
}

func TestProcessAutoVerifies(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t)

	f.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(matchingExtraction(), nil)
	f.registry.EXPECT().Lookup(gomock.Any(), "12345678", "NL").
		Return(verification.RegistryRecord{OfficialName: "Acme B.V.", Active: true}, nil)

	got, err := f.svc.Process(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.SubStateVerified, got.SubState)
	assert.True(t, got.Match.IdentifierExact)
	assert.True(t, got.Match.EntityActive)
	assert.GreaterOrEqual(t, got.Match.NameSimilarity, 0.9)

	t.Run("gate sees the verified case", func(t *testing.T) {
		ok, err := f.svc.HasVerifiedCase(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestProcessAutoFails(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t)

	// Nothing lines up: different name, unknown identifier, dissolved entity.
	f.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(verification.Extraction{
		Fields: verification.ExtractedFields{
			LegalName:      "Completely Different Trading Ltd",
			RegistryNumber: "99999999",
			CountryCode:    "NL",
		},
		Confidence: 0.95,
	}, nil)
	f.registry.EXPECT().Lookup(gomock.Any(), "12345678", "NL").
		Return(verification.RegistryRecord{OfficialName: "Acme B.V.", Active: false}, nil)
	f.registry.EXPECT().Lookup(gomock.Any(), "99999999", "NL").
		Return(verification.RegistryRecord{}, errors.New("no such entity"))

	got, err := f.svc.Process(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.SubStateFailed, got.SubState)
	assert.NotEmpty(t, got.DecisionReason)
}

func TestProcessFlagsAmbiguousCase(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t)

	// Identifier matches but the entity is no longer active: not clean enough
	// to verify, not broken enough to fail.
	f.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(matchingExtraction(), nil)
	f.registry.EXPECT().Lookup(gomock.Any(), "12345678", "NL").
		Return(verification.RegistryRecord{OfficialName: "Acme B.V.", Active: false}, nil)

	got, err := f.svc.Process(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.SubStateFlagged, got.SubState)

	t.Run("reprocessing leaves the flag alone", func(t *testing.T) {
		again, err := f.svc.Process(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, verification.SubStateFlagged, again.SubState)
	})

	t.Run("the gate stays closed", func(t *testing.T) {
		ok, err := f.svc.HasVerifiedCase(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestExtractionRetryBudget(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t)

	// Three failing attempts leave the case Submitted each time, then the
	// budget is spent and the caller gets a permanent refusal.
	f.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).
		Return(verification.Extraction{}, errors.New("ocr backend timeout")).Times(3)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Process(context.Background(), c.ID)
		require.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable), "attempt %d: %v", i, err)

		got, gerr := f.svc.Get(context.Background(), c.ID)
		require.NoError(t, gerr)
		assert.Equal(t, verification.SubStateSubmitted, got.SubState)
		assert.Equal(t, i+1, got.ExtractionRetries)
	}

	_, err := f.svc.Process(context.Background(), c.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func flagCase(t *testing.T, f *fixture) *verification.Case {
	t.Helper()
	c := f.submit(t)
	f.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(matchingExtraction(), nil)
	f.registry.EXPECT().Lookup(gomock.Any(), "12345678", "NL").
		Return(verification.RegistryRecord{OfficialName: "Acme B.V.", Active: false}, nil)
	got, err := f.svc.Process(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, verification.SubStateFlagged, got.SubState)
	return got
}

func operatorCtx(actorID id.ActorID) context.Context {
	return requestcontext.WithCaller(context.Background(), requestcontext.Caller{
		ActorID: actorID,
		Roles:   []requestcontext.Role{requestcontext.RoleOperator},
	})
}

func TestReview(t *testing.T) {
	t.Run("a different operator resolves the flag", func(t *testing.T) {
		f := newFixture(t)
		c := flagCase(t, f)

		reviewer := id.NewActorID()
		got, err := f.svc.Review(operatorCtx(reviewer), c.ID, true, "registry record confirmed by phone with the chamber")
		require.NoError(t, err)
		assert.Equal(t, verification.SubStateVerified, got.SubState)
		assert.Equal(t, reviewer, got.ReviewerID)
	})

	t.Run("the submitter may not review their own case", func(t *testing.T) {
		f := newFixture(t)
		c := flagCase(t, f)

		_, err := f.svc.Review(operatorCtx(f.submitter), c.ID, true, "looks fine to me")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		got, gerr := f.svc.Get(context.Background(), c.ID)
		require.NoError(t, gerr)
		assert.Equal(t, verification.SubStateFlagged, got.SubState, "a rejected review must not move the case")
	})

	t.Run("non-operators are rejected", func(t *testing.T) {
		f := newFixture(t)
		c := flagCase(t, f)

		ctx := requestcontext.WithCaller(context.Background(), requestcontext.Caller{
			ActorID: id.NewActorID(),
			Roles:   []requestcontext.Role{requestcontext.RoleMember},
		})
		_, err := f.svc.Review(ctx, c.ID, true, "reason")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("a reason is mandatory", func(t *testing.T) {
		f := newFixture(t)
		c := flagCase(t, f)

		_, err := f.svc.Review(operatorCtx(id.NewActorID()), c.ID, false, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("only flagged cases are reviewable", func(t *testing.T) {
		f := newFixture(t)
		c := flagCase(t, f)

		_, err := f.svc.Review(operatorCtx(id.NewActorID()), c.ID, false, "dissolved entity")
		require.NoError(t, err)

		// Terminal now; a second review bounces.
		_, err = f.svc.Review(operatorCtx(id.NewActorID()), c.ID, true, "changed my mind")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func TestSubmitRequiresDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), f.orgID, f.submitter, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
