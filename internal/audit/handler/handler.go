// Package handler exposes the audit log query endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"membergate/internal/audit"
	"membergate/internal/guard"
	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service is the audit query entry point.
type Service interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
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

// Register mounts the audit routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleQuery)
}

type queryResponse struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// HandleQuery handles GET /audit with filter and pagination query parameters.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.CallerFrom(ctx)

	if err := h.authz.Authorize(ctx, caller, guard.PermAuditRead, nil); err != nil {
		httputil.WriteError(w, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.Query(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, queryResponse{
		Entries: entries,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Limit:        defaultPageSize,
	}

	if raw := q.Get("actor_id"); raw != "" {
		actorID, err := id.ParseActorID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.ActorID = actorID
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "from must be an RFC 3339 timestamp")
		}
		filter.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "to must be an RFC 3339 timestamp")
		}
		filter.To = ts
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return audit.Filter{}, dErrors.Newf(dErrors.CodeValidation, "limit must be between 1 and %d", maxPageSize)
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
