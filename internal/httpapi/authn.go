package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"turn.careers/internal/authz"
	"turn.careers/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/otp/request",
	"/v1/auth/otp/verify",
	"/v1/auth/refresh",
	"/v1/auth/email/confirm",
	"/v1/auth/password/request",
	"/v1/auth/password/confirm",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.guard == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		artifact, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.guard.Resolve(r.Context(), artifact)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := authz.ContextWithPrincipal(r.Context(), principal)
		ctx = authz.ContextWithToken(ctx, artifact)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	artifact := strings.TrimSpace(header[len(bearer):])
	if artifact == "" {
		return "", errors.New("missing bearer token")
	}
	return artifact, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// principalOr401 pulls the authenticated principal out of the request
// context, answering 401 when the middleware did not attach one.
func principalOr401(w http.ResponseWriter, r *http.Request) (authz.Principal, bool) {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, identity.ErrUnauthenticated)
		return authz.Principal{}, false
	}
	return principal, true
}
