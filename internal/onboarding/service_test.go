package onboarding_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/audit"
	auditmem "membergate/internal/audit/store/memory"
	"membergate/internal/onboarding"
	onbmem "membergate/internal/onboarding/store/memory"
	"membergate/internal/org"
	orgmem "membergate/internal/org/store/memory"
	"membergate/internal/vault"
	"membergate/internal/vault/secrets"
	vaultmem "membergate/internal/vault/store/memory"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/requestcontext"
	"membergate/pkg/testutil"
)

type stubGate struct {
	verified bool
	err      error
}

func (g *stubGate) HasVerifiedCase(context.Context, id.OrgID) (bool, error) {
	return g.verified, g.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) TransitionApplied(_ context.Context, _ id.OrgID, from, to onboarding.Status, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, string(from)+"->"+string(to))
}

type fixture struct {
	onboarding *onboarding.Service
	orgs       *org.Service
	gate       *stubGate
	notifier   *recordingNotifier
	auditStore *auditmem.Store
	issuer     *vault.Vault
	orgID      id.OrgID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	auditStore := auditmem.New()
	publisher := audit.NewPublisher(auditStore)
	gate := &stubGate{verified: true}
	notifier := &recordingNotifier{}

	issuer := vault.New(vaultmem.New(), secrets.NewSource(), publisher, slog.Default())

	// The org service and the onboarding service reference each other, so the
	// endpoint directory is bound after both exist.
	dir := &lazyDirectory{}
	svc := onboarding.NewService(onbmem.New(), dir, gate, issuer, notifier, publisher, slog.Default())
	orgSvc := org.NewService(orgmem.New(), svc, publisher, slog.Default())
	dir.svc = orgSvc

	reg, err := orgSvc.Register(context.Background(), org.RegisterInput{
		LegalName:    "Acme B.V.",
		Identifiers:  []org.RegistryIdentifier{{Identifier: "12345678", CountryCode: "NL"}},
		ContactName:  "Jan Jansen",
		ContactEmail: "jan@acme.example",
	})
	require.NoError(t, err)

	return &fixture{
		onboarding: svc,
		orgs:       orgSvc,
		gate:       gate,
		notifier:   notifier,
		auditStore: auditStore,
		issuer:     issuer,
		orgID:      reg.Organization.ID,
	}
}

type lazyDirectory struct {
	svc *org.Service
}

func (d *lazyDirectory) CountEndpoints(ctx context.Context, orgID id.OrgID) (int, error) {
	return d.svc.CountEndpoints(ctx, orgID)
}

func (d *lazyDirectory) ReviewedEndpoints(ctx context.Context, orgID id.OrgID) ([]*org.Endpoint, error) {
	return d.svc.ReviewedEndpoints(ctx, orgID)
}

func operatorCtx() context.Context {
	return requestcontext.WithCaller(context.Background(), requestcontext.Caller{
		ActorID: id.NewActorID(),
		Roles:   []requestcontext.Role{requestcontext.RoleOperator},
	})
}

// addReviewedEndpoint declares and reviews one endpoint for the fixture org.
func (f *fixture) addReviewedEndpoint(t *testing.T) id.EndpointID {
	t.Helper()
	ep, err := f.orgs.AddEndpoint(context.Background(), f.orgID, "https://api.acme.example/v1", []string{"orders.receive"})
	require.NoError(t, err)
	_, err = f.orgs.ReviewEndpoint(context.Background(), ep.ID, id.NewActorID())
	require.NoError(t, err)
	return ep.ID
}

func (f *fixture) advanceTo(t *testing.T, target onboarding.Status) {
	t.Helper()
	ctx := operatorCtx()
	steps := []struct {
		status onboarding.Status
		apply  func() error
	}{
		{onboarding.StatusCompanyApproved, func() error { return f.onboarding.ApproveCompany(ctx, f.orgID, false, "") }},
		{onboarding.StatusEndpointsSubmitted, func() error {
			f.addReviewedEndpoint(t)
			return f.onboarding.SubmitEndpoints(ctx, f.orgID)
		}},
		{onboarding.StatusCredentialsIssued, func() error {
			_, err := f.onboarding.IssueCredentials(ctx, f.orgID)
			return err
		}},
		{onboarding.StatusConnectivityVerified, func() error { return f.onboarding.RecordConnectivity(ctx, f.orgID) }},
		{onboarding.StatusActive, func() error { return f.onboarding.Activate(ctx, f.orgID) }},
	}
	for _, step := range steps {
		require.NoError(t, step.apply())
		if step.status == target {
			return
		}
	}
	t.Fatalf("unreachable target status %s", target)
}

func (f *fixture) status(t *testing.T) onboarding.Status {
	t.Helper()
	rec, err := f.onboarding.Get(context.Background(), f.orgID)
	require.NoError(t, err)
	return rec.Status
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, onboarding.StatusRegistered, f.status(t))

	f.advanceTo(t, onboarding.StatusActive)
	assert.Equal(t, onboarding.StatusActive, f.status(t))

	rec, err := f.onboarding.Get(context.Background(), f.orgID)
	require.NoError(t, err)
	require.Len(t, rec.Checkpoints, 5)
	for i, cp := range rec.Checkpoints[1:] {
		assert.Equal(t, rec.Checkpoints[i].ToStatus, cp.FromStatus, "checkpoint chain must be contiguous")
	}
	assert.Len(t, f.notifier.events, 5)
}

func TestApproveCompany(t *testing.T) {
	t.Run("requires verified case", func(t *testing.T) {
		f := newFixture(t)
		f.gate.verified = false
		err := f.onboarding.ApproveCompany(operatorCtx(), f.orgID, false, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		assert.Equal(t, onboarding.StatusRegistered, f.status(t))
	})

	t.Run("override bypasses the gate but needs a reason", func(t *testing.T) {
		f := newFixture(t)
		f.gate.verified = false

		err := f.onboarding.ApproveCompany(operatorCtx(), f.orgID, true, "  ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		err = f.onboarding.ApproveCompany(operatorCtx(), f.orgID, true, "verified out of band against the registry")
		require.NoError(t, err)
		assert.Equal(t, onboarding.StatusCompanyApproved, f.status(t))
	})

	t.Run("retry of an applied approval is not an error", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.onboarding.ApproveCompany(operatorCtx(), f.orgID, false, ""))
		require.NoError(t, f.onboarding.ApproveCompany(operatorCtx(), f.orgID, false, ""))

		rec, err := f.onboarding.Get(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.Len(t, rec.Checkpoints, 1, "a retried transition must not append a second checkpoint")
	})
}

func TestConcurrentApproval(t *testing.T) {
	f := newFixture(t)

	// Both racers read Registered before either writes, then race the
	// conditional update. Exactly one checkpoint may exist afterwards.
	const racers = 6
	start := make(chan struct{})
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- f.onboarding.ApproveCompany(operatorCtx(), f.orgID, false, "")
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var losses int
	for err := range errs {
		if err == nil {
			continue
		}
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition), "unexpected error: %v", err)
		assert.Contains(t, dErrors.MessageOf(err), string(onboarding.StatusCompanyApproved),
			"the loser must see the state the winner left behind")
		losses++
	}
	t.Logf("racers that lost the conditional update: %d", losses)

	rec, err := f.onboarding.Get(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusCompanyApproved, rec.Status)
	assert.Len(t, rec.Checkpoints, 1, "only the race winner may append a checkpoint")
}

func TestSubmitEndpoints(t *testing.T) {
	t.Run("requires at least one endpoint", func(t *testing.T) {
		f := newFixture(t)
		f.advanceTo(t, onboarding.StatusCompanyApproved)
		err := f.onboarding.SubmitEndpoints(operatorCtx(), f.orgID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("cannot skip approval", func(t *testing.T) {
		f := newFixture(t)
		f.addReviewedEndpoint(t)
		err := f.onboarding.SubmitEndpoints(operatorCtx(), f.orgID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func TestIssueCredentials(t *testing.T) {
	t.Run("issues one credential per reviewed endpoint", func(t *testing.T) {
		f := newFixture(t)
		f.advanceTo(t, onboarding.StatusEndpointsSubmitted)
		second, err := f.orgs.AddEndpoint(context.Background(), f.orgID, "https://api2.acme.example/v1", []string{"invoices.receive"})
		require.NoError(t, err)
		_, err = f.orgs.ReviewEndpoint(context.Background(), second.ID, id.NewActorID())
		require.NoError(t, err)

		issued, err := f.onboarding.IssueCredentials(operatorCtx(), f.orgID)
		require.NoError(t, err)
		require.Len(t, issued, 2)
		for _, ic := range issued {
			assert.True(t, strings.HasPrefix(ic.Secret, "mg_"))
			assert.Empty(t, ic.Credential.SecretHash, "hashes never leave the vault")
		}
		assert.Equal(t, onboarding.StatusCredentialsIssued, f.status(t))
	})

	t.Run("redelivered request issues nothing new", func(t *testing.T) {
		f := newFixture(t)
		f.advanceTo(t, onboarding.StatusEndpointsSubmitted)

		first, err := f.onboarding.IssueCredentials(operatorCtx(), f.orgID)
		require.NoError(t, err)
		require.Len(t, first, 1)

		replay, err := f.onboarding.IssueCredentials(operatorCtx(), f.orgID)
		require.NoError(t, err)
		assert.Empty(t, replay, "secrets are handed out once; a retry must not mint more")

		// The original credential is untouched by the replay.
		owner, err := f.issuer.Validate(context.Background(), first[0].Secret)
		require.NoError(t, err)
		assert.Equal(t, vault.OwnerEndpoint, owner.Type)
		assert.Equal(t, onboarding.StatusCredentialsIssued, f.status(t))
	})

	t.Run("unreviewed endpoints get nothing", func(t *testing.T) {
		f := newFixture(t)
		f.advanceTo(t, onboarding.StatusCompanyApproved)
		_, err := f.orgs.AddEndpoint(context.Background(), f.orgID, "https://api.acme.example/v1", []string{"orders.receive"})
		require.NoError(t, err)
		require.NoError(t, f.onboarding.SubmitEndpoints(operatorCtx(), f.orgID))

		_, err = f.onboarding.IssueCredentials(operatorCtx(), f.orgID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func TestRecordConnectivityIsSelfReported(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, onboarding.StatusConnectivityVerified)

	rec, err := f.onboarding.Get(context.Background(), f.orgID)
	require.NoError(t, err)
	last := rec.Checkpoints[len(rec.Checkpoints)-1]
	assert.Equal(t, onboarding.StatusConnectivityVerified, last.ToStatus)
	assert.True(t, last.SelfReported)
}

func TestRejection(t *testing.T) {
	t.Run("requires a reason", func(t *testing.T) {
		f := newFixture(t)
		err := f.onboarding.Reject(operatorCtx(), f.orgID, " ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("is terminal", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.onboarding.Reject(operatorCtx(), f.orgID, "registry lookup shows the entity is dissolved"))
		assert.Equal(t, onboarding.StatusRejected, f.status(t))

		err := f.onboarding.ApproveCompany(operatorCtx(), f.orgID, true, "second thoughts")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("unavailable once endpoints are submitted", func(t *testing.T) {
		f := newFixture(t)
		f.advanceTo(t, onboarding.StatusEndpointsSubmitted)
		err := f.onboarding.Reject(operatorCtx(), f.orgID, "late rejection")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func TestSuspendReinstate(t *testing.T) {
	f := newFixture(t)

	testutil.Given(t, "an active member", func(t *testing.T) {
		f.advanceTo(t, onboarding.StatusActive)
	})

	testutil.When(t, "suspension lacks a reason", func(t *testing.T) {
		err := f.onboarding.Suspend(operatorCtx(), f.orgID, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	testutil.When(t, "suspended and reinstated", func(t *testing.T) {
		require.NoError(t, f.onboarding.Suspend(operatorCtx(), f.orgID, "unpaid invoices"))
		assert.Equal(t, onboarding.StatusSuspended, f.status(t))

		require.NoError(t, f.onboarding.Reinstate(operatorCtx(), f.orgID))
		assert.Equal(t, onboarding.StatusActive, f.status(t))
	})

	testutil.Then(t, "no earlier onboarding step reruns", func(t *testing.T) {
		rec, err := f.onboarding.Get(context.Background(), f.orgID)
		require.NoError(t, err)
		// Checkpoint history keeps growing; every entry is a legal move.
		for _, cp := range rec.Checkpoints {
			assert.True(t, onboarding.CanTransition(cp.FromStatus, cp.ToStatus))
		}
	})
}

func TestTransitionAuditTrail(t *testing.T) {
	f := newFixture(t)
	before := f.auditStore.Len()
	require.NoError(t, f.onboarding.ApproveCompany(operatorCtx(), f.orgID, false, ""))
	assert.Greater(t, f.auditStore.Len(), before)

	entries, err := f.auditStore.Query(context.Background(), audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionOrgTransition, entries[0].Action)
	assert.Equal(t, audit.ResultAllowed, entries[0].Result)
}
