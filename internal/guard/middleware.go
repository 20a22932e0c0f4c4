package guard

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	domain "membergate/pkg/domain"
	"membergate/pkg/platform/httputil"
	"membergate/pkg/requestcontext"
)

// RequestContext stamps every request with an ID, a stable request time and
// parsed client metadata. It runs first in the chain so audit entries written
// anywhere downstream carry the same correlation fields.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		ctx = requestcontext.WithClientMetadata(ctx, clientIP(r), clientAgent(r))

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity authenticates the bearer token but does not require the
// caller to be a provisioned party. Registration is the one route that needs
// this: the caller exists in the identity provider but not yet in the
// registry.
func (g *Guard) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := g.Authenticate(ctx, r.Header.Get("Authorization"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		caller := requestcontext.Caller{
			ActorID: domain.ActorID(identity.Subject),
			Email:   identity.Email,
			Roles:   platformRoles(identity.Roles),
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
	})
}

// RequireAuth authenticates the token and resolves the caller to a party or a
// platform role. Unresolvable identities are rejected here so handlers only
// ever see a fully resolved Caller.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := g.Authenticate(ctx, r.Header.Get("Authorization"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		caller, err := g.ResolveCaller(ctx, identity)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientAgent condenses the raw User-Agent header into "browser/version (os)"
// so audit rows stay readable.
func clientAgent(r *http.Request) string {
	raw := r.UserAgent()
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	summary := name
	if version != "" {
		summary += "/" + version
	}
	if os := ua.OS(); os != "" {
		summary += " (" + os + ")"
	}
	return summary
}
