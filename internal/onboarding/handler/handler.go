// Package handler wires onboarding lifecycle endpoints to the onboarding
// service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"membergate/internal/guard"
	"membergate/internal/onboarding"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

// Service is the slice of the onboarding service this handler needs.
type Service interface {
	Get(ctx context.Context, orgID id.OrgID) (*onboarding.Record, error)
	ApproveCompany(ctx context.Context, orgID id.OrgID, override bool, reason string) error
	SubmitEndpoints(ctx context.Context, orgID id.OrgID) error
	IssueCredentials(ctx context.Context, orgID id.OrgID) ([]onboarding.IssuedCredential, error)
	RecordConnectivity(ctx context.Context, orgID id.OrgID) error
	Activate(ctx context.Context, orgID id.OrgID) error
	Reject(ctx context.Context, orgID id.OrgID, reason string) error
	Suspend(ctx context.Context, orgID id.OrgID, reason string) error
	Reinstate(ctx context.Context, orgID id.OrgID) error
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

// Register mounts the lifecycle routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/orgs/{orgID}/onboarding", h.HandleGet)
	r.Post("/orgs/{orgID}/onboarding/approve", h.HandleApprove)
	r.Post("/orgs/{orgID}/onboarding/submit-endpoints", h.HandleSubmitEndpoints)
	r.Post("/orgs/{orgID}/onboarding/issue-credentials", h.HandleIssueCredentials)
	r.Post("/orgs/{orgID}/onboarding/connectivity", h.HandleRecordConnectivity)
	r.Post("/orgs/{orgID}/onboarding/activate", h.HandleActivate)
	r.Post("/orgs/{orgID}/onboarding/reject", h.HandleReject)
	r.Post("/orgs/{orgID}/onboarding/suspend", h.HandleSuspend)
	r.Post("/orgs/{orgID}/onboarding/reinstate", h.HandleReinstate)
}

// HandleGet handles GET /orgs/{orgID}/onboarding.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgRead)
	if !ok {
		return
	}
	rec, err := h.service.Get(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

type approveRequest struct {
	Override bool   `json:"override,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// HandleApprove handles POST /orgs/{orgID}/onboarding/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgApprove)
	if !ok {
		return
	}
	req, ok := httputil.Decode[approveRequest](w, r)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.ApproveCompany(ctx, orgID, req.Override, req.Reason)
	}, orgID)
}

// HandleSubmitEndpoints handles POST /orgs/{orgID}/onboarding/submit-endpoints.
func (h *Handler) HandleSubmitEndpoints(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermEndpointSubmit)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.SubmitEndpoints(ctx, orgID)
	}, orgID)
}

// HandleIssueCredentials handles POST /orgs/{orgID}/onboarding/issue-credentials.
// The response is the only place the issued plaintext secrets ever appear.
func (h *Handler) HandleIssueCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorizeOrg(w, r, guard.PermCredentialIssue)
	if !ok {
		return
	}
	issued, err := h.service.IssueCredentials(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credentials": issued})
}

// HandleRecordConnectivity handles POST /orgs/{orgID}/onboarding/connectivity.
func (h *Handler) HandleRecordConnectivity(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermConnectivityReport)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.RecordConnectivity(ctx, orgID)
	}, orgID)
}

// HandleActivate handles POST /orgs/{orgID}/onboarding/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgActivate)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.Activate(ctx, orgID)
	}, orgID)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// HandleReject handles POST /orgs/{orgID}/onboarding/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgReject)
	if !ok {
		return
	}
	req, ok := httputil.Decode[reasonRequest](w, r)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.Reject(ctx, orgID, req.Reason)
	}, orgID)
}

// HandleSuspend handles POST /orgs/{orgID}/onboarding/suspend.
func (h *Handler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgSuspend)
	if !ok {
		return
	}
	req, ok := httputil.Decode[reasonRequest](w, r)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.Suspend(ctx, orgID, req.Reason)
	}, orgID)
}

// HandleReinstate handles POST /orgs/{orgID}/onboarding/reinstate.
func (h *Handler) HandleReinstate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorizeOrg(w, r, guard.PermOrgSuspend)
	if !ok {
		return
	}
	h.applyTransition(w, r, func(ctx context.Context) error {
		return h.service.Reinstate(ctx, orgID)
	}, orgID)
}

func (h *Handler) applyTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context) error, orgID id.OrgID) {
	ctx := r.Context()
	if err := apply(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) authorizeOrg(w http.ResponseWriter, r *http.Request, perm guard.Permission) (id.OrgID, bool) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	orgID, err := id.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrgID{}, false
	}
	if err := h.authz.Authorize(ctx, caller, perm, &guard.Resource{
		Type: "organization", ID: orgID.String(), OwnerOrg: orgID,
	}); err != nil {
		httputil.WriteError(w, err)
		return id.OrgID{}, false
	}
	return orgID, true
}
