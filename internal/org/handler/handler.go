// Package handler wires organization registry endpoints to the org service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"membergate/internal/guard"
	"membergate/internal/org"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

// Service is the slice of the org service this handler needs.
type Service interface {
	Register(ctx context.Context, input org.RegisterInput) (*org.Registration, error)
	Get(ctx context.Context, orgID id.OrgID) (*org.Organization, error)
	Delete(ctx context.Context, orgID id.OrgID) error
	AddEndpoint(ctx context.Context, orgID id.OrgID, address string, capabilities []string) (*org.Endpoint, error)
	ListEndpoints(ctx context.Context, orgID id.OrgID) ([]*org.Endpoint, error)
	ReviewEndpoint(ctx context.Context, endpointID id.EndpointID, reviewer id.ActorID) (*org.Endpoint, error)
	EndpointOrg(ctx context.Context, endpointID id.EndpointID) (id.OrgID, error)
}

// Authorizer is the guard decision entry point.
type Authorizer interface {
	Authorize(ctx context.Context, caller requestcontext.Caller, perm guard.Permission, res *guard.Resource) error
}

type Handler struct {
	service Service
	authz   Authorizer
	logger  *slog.Logger
}

func New(service Service, authz Authorizer, logger *slog.Logger) *Handler {
	return &Handler{service: service, authz: authz, logger: logger}
}

// Register mounts the routes that require a resolved caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/orgs/{orgID}", h.HandleGet)
	r.Delete("/orgs/{orgID}", h.HandleDelete)
	r.Post("/orgs/{orgID}/endpoints", h.HandleAddEndpoint)
	r.Get("/orgs/{orgID}/endpoints", h.HandleListEndpoints)
	r.Post("/orgs/{orgID}/endpoints/{endpointID}/review", h.HandleReviewEndpoint)
}

// RegisterPublic mounts registration, which needs a verified identity but not
// an existing party.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/orgs", h.HandleRegister)
}

// HandleRegister handles POST /orgs.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	input, ok := httputil.Decode[org.RegisterInput](w, r)
	if !ok {
		return
	}
	registration, err := h.service.Register(ctx, input)
	if err != nil {
		h.logger.WarnContext(ctx, "registration rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registration)
}

// HandleGet handles GET /orgs/{orgID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := h.authorizeOrg(w, r, guard.PermOrgRead)
	if !ok {
		return
	}
	o, err := h.service.Get(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

// HandleDelete handles DELETE /orgs/{orgID}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := h.authorizeOrg(w, r, guard.PermOrgDelete)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, orgID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addEndpointRequest struct {
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
}

// HandleAddEndpoint handles POST /orgs/{orgID}/endpoints.
func (h *Handler) HandleAddEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := h.authorizeOrg(w, r, guard.PermEndpointSubmit)
	if !ok {
		return
	}
	req, ok := httputil.Decode[addEndpointRequest](w, r)
	if !ok {
		return
	}
	endpoint, err := h.service.AddEndpoint(ctx, orgID, req.Address, req.Capabilities)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, endpoint)
}

// HandleListEndpoints handles GET /orgs/{orgID}/endpoints.
func (h *Handler) HandleListEndpoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := h.authorizeOrg(w, r, guard.PermOrgRead)
	if !ok {
		return
	}
	endpoints, err := h.service.ListEndpoints(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, endpoints)
}

// HandleReviewEndpoint handles POST /orgs/{orgID}/endpoints/{endpointID}/review.
func (h *Handler) HandleReviewEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	endpointID, err := id.ParseEndpointID(chi.URLParam(r, "endpointID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ownerOrg, err := h.service.EndpointOrg(ctx, endpointID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authz.Authorize(ctx, caller, guard.PermEndpointReview, &guard.Resource{
		Type: "endpoint", ID: endpointID.String(), OwnerOrg: ownerOrg,
	}); err != nil {
		httputil.WriteError(w, err)
		return
	}

	endpoint, err := h.service.ReviewEndpoint(ctx, endpointID, caller.ActorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, endpoint)
}

// authorizeOrg parses the org path parameter and runs the guard check with
// the organization as the owned resource.
func (h *Handler) authorizeOrg(w http.ResponseWriter, r *http.Request, perm guard.Permission) (id.OrgID, requestcontext.Caller, bool) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	orgID, err := id.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrgID{}, caller, false
	}
	if err := h.authz.Authorize(ctx, caller, perm, &guard.Resource{
		Type: "organization", ID: orgID.String(), OwnerOrg: orgID,
	}); err != nil {
		httputil.WriteError(w, err)
		return id.OrgID{}, caller, false
	}
	return orgID, caller, true
}
