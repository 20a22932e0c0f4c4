package org_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/audit"
	auditmem "membergate/internal/audit/store/memory"
	"membergate/internal/org"
	orgmem "membergate/internal/org/store/memory"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
)

type noopStarter struct {
	mu      sync.Mutex
	started []id.OrgID
}

func (n *noopStarter) Start(_ context.Context, orgID id.OrgID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, orgID)
	return nil
}

func newTestService(t *testing.T) (*org.Service, *noopStarter, *auditmem.Store) {
	t.Helper()
	starter := &noopStarter{}
	auditStore := auditmem.New()
	svc := org.NewService(orgmem.New(), starter, audit.NewPublisher(auditStore), slog.Default())
	return svc, starter, auditStore
}

func registerInput(identifier string) org.RegisterInput {
	return org.RegisterInput{
		LegalName:    "Acme B.V.",
		Identifiers:  []org.RegistryIdentifier{{Identifier: identifier, CountryCode: "NL", Registry: "KVK"}},
		ContactName:  "Jan Jansen",
		ContactEmail: "jan@acme.example",
	}
}

func TestRegister(t *testing.T) {
	svc, starter, auditStore := newTestService(t)

	reg, err := svc.Register(context.Background(), registerInput("12345678"))
	require.NoError(t, err)
	require.NotNil(t, reg.Organization)
	require.NotNil(t, reg.Party)
	require.NotNil(t, reg.Contact)

	assert.Equal(t, reg.Organization.ID, reg.Party.OrgID)
	assert.Equal(t, reg.Party.ID, reg.Organization.PartyID)
	assert.Equal(t, reg.Organization.ID, reg.Contact.OrgID)
	assert.Equal(t, "jan@acme.example", reg.Contact.Email)

	assert.Equal(t, []id.OrgID{reg.Organization.ID}, starter.started)
	assert.Equal(t, 1, auditStore.Len())
}

func TestRegisterDuplicateIdentifier(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Register(context.Background(), registerInput("12345678"))
	require.NoError(t, err)

	t.Run("exact duplicate rejected", func(t *testing.T) {
		input := registerInput("12345678")
		input.ContactEmail = "other@acme.example"
		_, err := svc.Register(context.Background(), input)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("formatting variant still collides", func(t *testing.T) {
		input := registerInput(" 1234-5678 ")
		input.ContactEmail = "variant@acme.example"
		_, err := svc.Register(context.Background(), input)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestRegisterConcurrentDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := registerInput("87654321")
			input.ContactEmail = "person" + string(rune('a'+i)) + "@acme.example"
			_, err := svc.Register(context.Background(), input)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one registration must win")
	assert.Equal(t, attempts-1, conflicts)
}

func TestRegisterAfterDelete(t *testing.T) {
	svc, _, _ := newTestService(t)

	reg, err := svc.Register(context.Background(), registerInput("12345678"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), reg.Organization.ID))

	// The identifier is released, so a fresh registration succeeds.
	input := registerInput("12345678")
	input.ContactEmail = "second@acme.example"
	_, err = svc.Register(context.Background(), input)
	assert.NoError(t, err)

	// The deleted organization itself behaves as absent.
	_, err = svc.Get(context.Background(), reg.Organization.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestEndpoints(t *testing.T) {
	svc, _, _ := newTestService(t)
	reg, err := svc.Register(context.Background(), registerInput("12345678"))
	require.NoError(t, err)
	orgID := reg.Organization.ID

	ep, err := svc.AddEndpoint(context.Background(), orgID, "https://api.acme.example/v1", []string{"orders.receive"})
	require.NoError(t, err)
	assert.False(t, ep.Reviewed)

	t.Run("validation", func(t *testing.T) {
		_, err := svc.AddEndpoint(context.Background(), orgID, "  ", []string{"x"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		_, err = svc.AddEndpoint(context.Background(), orgID, "https://a.example", nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("review gates issuance eligibility", func(t *testing.T) {
		reviewed, err := svc.ReviewedEndpoints(context.Background(), orgID)
		require.NoError(t, err)
		assert.Empty(t, reviewed)

		reviewer := id.NewActorID()
		_, err = svc.ReviewEndpoint(context.Background(), ep.ID, reviewer)
		require.NoError(t, err)

		reviewed, err = svc.ReviewedEndpoints(context.Background(), orgID)
		require.NoError(t, err)
		require.Len(t, reviewed, 1)
		assert.Equal(t, reviewer, reviewed[0].ReviewedBy)
	})

	t.Run("count", func(t *testing.T) {
		n, err := svc.CountEndpoints(context.Background(), orgID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestResolvePartyByEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	reg, err := svc.Register(context.Background(), registerInput("12345678"))
	require.NoError(t, err)

	t.Run("resolves case-insensitively", func(t *testing.T) {
		partyID, orgID, err := svc.ResolvePartyByEmail(context.Background(), "Jan@Acme.Example")
		require.NoError(t, err)
		assert.Equal(t, reg.Party.ID, partyID)
		assert.Equal(t, reg.Organization.ID, orgID)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := svc.ResolvePartyByEmail(context.Background(), "nobody@else.example")
		assert.Error(t, err)
	})

	t.Run("deleted organization does not resolve", func(t *testing.T) {
		require.NoError(t, svc.Delete(context.Background(), reg.Organization.ID))
		_, _, err := svc.ResolvePartyByEmail(context.Background(), "jan@acme.example")
		assert.Error(t, err)
	})
}
