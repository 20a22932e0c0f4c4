// Package handler wires credential endpoints to the vault.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"membergate/internal/guard"
	"membergate/internal/vault"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

// Service is the slice of the vault this handler needs.
type Service interface {
	Validate(ctx context.Context, presented string) (vault.Owner, error)
	Get(ctx context.Context, credentialID id.CredentialID) (*vault.Credential, error)
	Revoke(ctx context.Context, credentialID id.CredentialID) error
	Rotate(ctx context.Context, credentialID id.CredentialID, expiresAt time.Time) (string, *vault.Credential, error)
}

// OwnerResolver maps a credential owner to its organization for ownership
// checks.
type OwnerResolver interface {
	EndpointOrg(ctx context.Context, endpointID id.EndpointID) (id.OrgID, error)
}

// Authorizer is the guard decision entry point.
type Authorizer interface {
	Authorize(ctx context.Context, caller requestcontext.Caller, perm guard.Permission, res *guard.Resource) error
}

type Handler struct {
	service  Service
	resolver OwnerResolver
	authz    Authorizer
	logger   *slog.Logger

	rotatedTTL time.Duration
}

func New(service Service, resolver OwnerResolver, authz Authorizer, logger *slog.Logger) *Handler {
	return &Handler{
		service:    service,
		resolver:   resolver,
		authz:      authz,
		logger:     logger,
		rotatedTTL: 90 * 24 * time.Hour,
	}
}

// Register mounts the routes that require a resolved caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/credentials/{credentialID}", h.HandleGet)
	r.Post("/credentials/{credentialID}/rotate", h.HandleRotate)
	r.Post("/credentials/{credentialID}/revoke", h.HandleRevoke)
}

// RegisterPublic mounts validation, the machine-facing entry point
// authenticated by the credential itself.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/credentials/validate", h.HandleValidate)
}

type validateRequest struct {
	Credential string `json:"credential"`
}

type validateResponse struct {
	Owner vault.Owner `json:"owner"`
}

// HandleValidate handles POST /credentials/validate.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[validateRequest](w, r)
	if !ok {
		return
	}
	owner, err := h.service.Validate(ctx, req.Credential)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, validateResponse{Owner: owner})
}

// HandleGet handles GET /credentials/{credentialID}. Metadata only: there is
// no plaintext to return, by construction.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.authorizeCredential(w, r, guard.PermCredentialRotate)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cred)
}

// HandleRotate handles POST /credentials/{credentialID}/rotate.
func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := h.authorizeCredential(w, r, guard.PermCredentialRotate)
	if !ok {
		return
	}
	secret, rotated, err := h.service.Rotate(ctx, cred.ID, requestcontext.Now(ctx).Add(h.rotatedTTL))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"credential": rotated,
		"secret":     secret,
	})
}

// HandleRevoke handles POST /credentials/{credentialID}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := h.authorizeCredential(w, r, guard.PermCredentialRevoke)
	if !ok {
		return
	}
	if err := h.service.Revoke(ctx, cred.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeCredential loads the credential, resolves its owning organization,
// and runs the guard check. Foreign credentials read as not found.
func (h *Handler) authorizeCredential(w http.ResponseWriter, r *http.Request, perm guard.Permission) (*vault.Credential, bool) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "credentialID"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	cred, err := h.service.Get(ctx, credentialID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}

	ownerOrg, err := h.ownerOrg(ctx, cred.Owner)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	if err := h.authz.Authorize(ctx, caller, perm, &guard.Resource{
		Type: "credential", ID: credentialID.String(), OwnerOrg: ownerOrg,
	}); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return cred, true
}

func (h *Handler) ownerOrg(ctx context.Context, owner vault.Owner) (id.OrgID, error) {
	switch owner.Type {
	case vault.OwnerOrganization:
		return id.OrgID(owner.ID), nil
	case vault.OwnerEndpoint:
		return h.resolver.EndpointOrg(ctx, id.EndpointID(owner.ID))
	default:
		return id.OrgID(uuid.Nil), nil
	}
}
