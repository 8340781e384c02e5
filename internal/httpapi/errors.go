package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"turn.careers/internal/audit"
	"turn.careers/internal/authz"
	"turn.careers/internal/identity"
	"turn.careers/internal/otp"
	"turn.careers/internal/store"
	"turn.careers/internal/token"
	"turn.careers/internal/verify"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleAuthError is the single place where the core's stable error kinds
// become transport status codes.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var rateLimited *otp.RateLimitError
	switch {
	case errors.As(err, &rateLimited):
		seconds := int(rateLimited.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(w, r, http.StatusTooManyRequests, "too many requests")

	case errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")

	case errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrSignatureInvalid),
		errors.Is(err, token.ErrRevoked),
		errors.Is(err, token.ErrReuseDetected):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")

	case errors.Is(err, otp.ErrLockedOut):
		writeError(w, r, http.StatusForbidden, "code locked out")

	case errors.Is(err, otp.ErrCodeInvalid),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid code")

	case errors.Is(err, verify.ErrExpired),
		errors.Is(err, verify.ErrAlreadyUsed),
		errors.Is(err, verify.ErrNotFound),
		errors.Is(err, verify.ErrPurposeMismatch):
		writeError(w, r, http.StatusBadRequest, "invalid or expired token")

	case errors.Is(err, store.ErrUnavailable):
		// Infrastructure failure is never reported as a denial.
		writeError(w, r, http.StatusServiceUnavailable, "temporarily unavailable")

	case errors.Is(err, token.ErrSigningKey):
		// Fatal misconfiguration; details stay out of the response.
		writeError(w, r, http.StatusInternalServerError, "internal error")

	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
