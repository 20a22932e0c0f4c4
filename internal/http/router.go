// Package httpapi assembles the HTTP surface: middleware chain, public
// machine routes, and the authenticated registry API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "membergate/internal/audit/handler"
	"membergate/internal/guard"
	onboardinghandler "membergate/internal/onboarding/handler"
	orghandler "membergate/internal/org/handler"
	vaulthandler "membergate/internal/vault/handler"
	verificationhandler "membergate/internal/verification/handler"
	"membergate/pkg/platform/httputil"
)

// Deps is everything the router mounts.
type Deps struct {
	Guard        *guard.Guard
	Orgs         *orghandler.Handler
	Onboarding   *onboardinghandler.Handler
	Verification *verificationhandler.Handler
	Credentials  *vaulthandler.Handler
	Audit        *audithandler.Handler
}

// NewRouter wires all endpoints behind the request-context middleware.
// Credential validation is the single route with no bearer token: machines
// authenticate with the credential itself. Registration needs a verified
// identity but no existing party. Everything else requires a fully resolved
// caller.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(guard.RequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	d.Credentials.RegisterPublic(r)

	r.Group(func(r chi.Router) {
		r.Use(d.Guard.RequireIdentity)
		d.Orgs.RegisterPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Guard.RequireAuth)
		d.Orgs.Register(r)
		d.Onboarding.Register(r)
		d.Verification.Register(r)
		d.Credentials.Register(r)
		d.Audit.Register(r)
	})

	return r
}
