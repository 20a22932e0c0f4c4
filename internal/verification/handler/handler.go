// Package handler wires document verification endpoints to the verification
// service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"membergate/internal/guard"
	"membergate/internal/verification"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

// Service is the slice of the verification service this handler needs.
type Service interface {
	Submit(ctx context.Context, orgID id.OrgID, submitter id.ActorID, document []byte) (*verification.Case, error)
	Process(ctx context.Context, caseID id.CaseID) (*verification.Case, error)
	Review(ctx context.Context, caseID id.CaseID, verified bool, reason string) (*verification.Case, error)
	Get(ctx context.Context, caseID id.CaseID) (*verification.Case, error)
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

// Register mounts the verification routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/orgs/{orgID}/verification", h.HandleSubmit)
	r.Get("/verification/{caseID}", h.HandleGet)
	r.Post("/verification/{caseID}/process", h.HandleProcess)
	r.Post("/verification/{caseID}/review", h.HandleReview)
}

type submitRequest struct {
	// Document is the raw uploaded document, base64 in transit.
	Document []byte `json:"document"`
}

// HandleSubmit handles POST /orgs/{orgID}/verification.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	orgID, err := id.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authz.Authorize(ctx, caller, guard.PermVerificationSubmit, &guard.Resource{
		Type: "organization", ID: orgID.String(), OwnerOrg: orgID,
	}); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[submitRequest](w, r)
	if !ok {
		return
	}
	c, err := h.service.Submit(ctx, orgID, caller.ActorID, req.Document)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

// HandleGet handles GET /verification/{caseID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorizeCase(w, r, guard.PermOrgRead)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// HandleProcess handles POST /verification/{caseID}/process: it advances the
// case through extraction, cross-check, and the automatic decision.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.authorizeCase(w, r, guard.PermVerificationSubmit)
	if !ok {
		return
	}
	processed, err := h.service.Process(ctx, c.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, processed)
}

type reviewRequest struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// HandleReview handles POST /verification/{caseID}/review. The service holds
// the two-person rule; the guard holds the role check.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.authorizeCase(w, r, guard.PermVerificationReview)
	if !ok {
		return
	}
	req, ok := httputil.Decode[reviewRequest](w, r)
	if !ok {
		return
	}
	reviewed, err := h.service.Review(ctx, c.ID, req.Verified, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviewed)
}

// authorizeCase loads the case and runs the guard check against its owning
// organization, so probing foreign case IDs reads the same as probing
// nonexistent ones.
func (h *Handler) authorizeCase(w http.ResponseWriter, r *http.Request, perm guard.Permission) (*verification.Case, bool) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	c, err := h.service.Get(ctx, caseID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	if err := h.authz.Authorize(ctx, caller, perm, &guard.Resource{
		Type: "verification_case", ID: caseID.String(), OwnerOrg: c.OrgID,
	}); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return c, true
}
