package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/audit"
	audithandler "membergate/internal/audit/handler"
	auditmem "membergate/internal/audit/store/memory"
	"membergate/internal/guard"
	"membergate/internal/notify"
	"membergate/internal/onboarding"
	onboardinghandler "membergate/internal/onboarding/handler"
	onbmem "membergate/internal/onboarding/store/memory"
	"membergate/internal/org"
	orghandler "membergate/internal/org/handler"
	orgmem "membergate/internal/org/store/memory"
	"membergate/internal/token"
	"membergate/internal/vault"
	vaulthandler "membergate/internal/vault/handler"
	"membergate/internal/vault/secrets"
	vaultmem "membergate/internal/vault/store/memory"
	"membergate/internal/verification"
	"membergate/internal/verification/external"
	verificationhandler "membergate/internal/verification/handler"
	verifmem "membergate/internal/verification/store/memory"
	id "membergate/pkg/domain"
)

type testStarter struct {
	svc *onboarding.Service
}

func (s *testStarter) Start(ctx context.Context, orgID id.OrgID) error {
	return s.svc.Start(ctx, orgID)
}

type testServer struct {
	handler  http.Handler
	verifier *token.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := audit.NewPublisher(auditmem.New())
	verifier := token.NewVerifier("test-signing-key", "membergate", "membergate-api")

	credentials := vault.New(vaultmem.New(), secrets.NewSource(), publisher, log)
	starter := &testStarter{}
	orgs := org.NewService(orgmem.New(), starter, publisher, log)
	cases := verification.NewService(verifmem.New(), orgs, external.DevExtractor{}, external.DevRegistry{}, publisher, log)
	starter.svc = onboarding.NewService(onbmem.New(), orgs, cases, credentials, notify.NewLogDispatcher(log), publisher, log)
	g := guard.New(verifier, orgs, publisher, log)

	handler := NewRouter(Deps{
		Guard:        g,
		Orgs:         orghandler.New(orgs, g, log),
		Onboarding:   onboardinghandler.New(starter.svc, g, log),
		Verification: verificationhandler.New(cases, g, log),
		Credentials:  vaulthandler.New(credentials, orgs, g, log),
		Audit:        audithandler.New(publisher, g, log),
	})
	return &testServer{handler: handler, verifier: verifier}
}

func (s *testServer) token(t *testing.T, email string, roles ...string) string {
	t.Helper()
	signed, err := s.verifier.Sign(token.Identity{
		Subject: uuid.New(),
		Email:   email,
		Roles:   roles,
	}, time.Hour)
	require.NoError(t, err)
	return signed
}

// do executes one request against the router and decodes the JSON response
// into out when it is non-nil.
func (s *testServer) do(t *testing.T, method, path, bearer string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func (s *testServer) register(t *testing.T, legalName, identifier, email string) *org.Registration {
	t.Helper()
	var reg org.Registration
	rec := s.do(t, http.MethodPost, "/orgs", s.token(t, email), org.RegisterInput{
		LegalName:    legalName,
		Identifiers:  []org.RegistryIdentifier{{Identifier: identifier, CountryCode: "NL", Registry: "KVK"}},
		ContactName:  "Primary Contact",
		ContactEmail: email,
	}, &reg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &reg
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/orgs", "", org.RegisterInput{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOnboardingOverHTTP(t *testing.T) {
	s := newTestServer(t)
	memberEmail := "ops@acme.example"
	member := s.token(t, memberEmail)
	operator := s.token(t, "operator@platform.example", "operator")

	reg := s.register(t, "Acme B.V.", "12345678", memberEmail)
	orgPath := "/orgs/" + reg.Organization.ID.String()

	// Operator approves with an override since no document case exists.
	rec := s.do(t, http.MethodPost, orgPath+"/onboarding/approve", operator,
		map[string]any{"override": true, "reason": "manual KYB sign-off"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Member declares an endpoint; operator reviews it.
	var endpoint org.Endpoint
	rec = s.do(t, http.MethodPost, orgPath+"/endpoints", member,
		map[string]any{"address": "https://api.acme.example/events", "capabilities": []string{"orders.read"}}, &endpoint)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, orgPath+"/endpoints/"+endpoint.ID.String()+"/review", operator, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, orgPath+"/onboarding/submit-endpoints", member, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Credential issuance returns the plaintext exactly once.
	var issued struct {
		Credentials []onboarding.IssuedCredential `json:"credentials"`
	}
	rec = s.do(t, http.MethodPost, orgPath+"/onboarding/issue-credentials", operator, nil, &issued)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, issued.Credentials, 1)
	require.NotEmpty(t, issued.Credentials[0].Secret)

	// The minted secret authenticates on the public validation route.
	var validated struct {
		Owner vault.Owner `json:"owner"`
	}
	rec = s.do(t, http.MethodPost, "/credentials/validate", "",
		map[string]string{"credential": issued.Credentials[0].Secret}, &validated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, vault.OwnerEndpoint, validated.Owner.Type)

	rec = s.do(t, http.MethodPost, orgPath+"/onboarding/connectivity", member, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, orgPath+"/onboarding/activate", operator, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record onboarding.Record
	rec = s.do(t, http.MethodGet, orgPath+"/onboarding", member, nil, &record)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, onboarding.StatusActive, record.Status)
	assert.Len(t, record.Checkpoints, 5)
}

func TestCrossTenantReadsLookLikeMissing(t *testing.T) {
	s := newTestServer(t)
	memberA := s.token(t, "a@alpha.example")
	s.register(t, "Alpha B.V.", "11111111", "a@alpha.example")
	regB := s.register(t, "Beta B.V.", "22222222", "b@beta.example")

	foreign := s.do(t, http.MethodGet, "/orgs/"+regB.Organization.ID.String(), memberA, nil, nil)
	absent := s.do(t, http.MethodGet, "/orgs/"+uuid.NewString(), memberA, nil, nil)

	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, http.StatusNotFound, absent.Code)
	assert.Equal(t, absent.Body.String(), foreign.Body.String(),
		"a foreign organization must be indistinguishable from a missing one")
}

func TestAuditQueryRequiresPrivilegedRole(t *testing.T) {
	s := newTestServer(t)
	memberEmail := "m@member.example"
	s.register(t, "Member B.V.", "33333333", memberEmail)

	rec := s.do(t, http.MethodGet, "/audit", s.token(t, memberEmail), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var page struct {
		Entries []audit.Entry `json:"entries"`
	}
	rec = s.do(t, http.MethodGet, "/audit", s.token(t, "aud@platform.example", "auditor"), nil, &page)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, page.Entries, "registration and guard decisions must be on the log")
}

func TestUnlinkedIdentityIsRejectedDistinctly(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, fmt.Sprintf("/orgs/%s", uuid.NewString()), s.token(t, "stranger@nowhere.example"), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code,
		"a valid token with no party must fail party resolution, not authentication")
}
