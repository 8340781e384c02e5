package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"turn.careers/internal/identity"
	"turn.careers/internal/obs"
	"turn.careers/internal/otp"
	"turn.careers/internal/token"
	"turn.careers/internal/verify"
)

// Messenger transports plaintext codes and links to a destination. Business
// logic never talks to a provider directly.
type Messenger interface {
	Send(ctx context.Context, destination, content string) error
}

// ReadyProbe reports readiness (e.g. database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles the collaborators the boundary adapter composes.
type Deps struct {
	Guard         *identity.Guard
	Tokens        *token.Service
	Codes         *otp.Service
	Verifications *verify.Service
	Directory     identity.Directory
	Messenger     Messenger
	Ready         ReadyProbe
	Version       string
}

// API is the thin HTTP layer over the identity core. It owns the mapping
// from error kinds to transport status codes and nothing else.
type API struct {
	mux           *http.ServeMux
	guard         *identity.Guard
	tokens        *token.Service
	codes         *otp.Service
	verifications *verify.Service
	directory     identity.Directory
	messenger     Messenger
	readyProbe    ReadyProbe
	version       string
}

func New(deps Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		guard:         deps.Guard,
		tokens:        deps.Tokens,
		codes:         deps.Codes,
		verifications: deps.Verifications,
		directory:     deps.Directory,
		messenger:     deps.Messenger,
		readyProbe:    deps.Ready,
		version:       deps.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/otp/request", a.handleOTPRequest)
	a.mux.HandleFunc("/v1/auth/otp/verify", a.handleOTPVerify)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/email/request", a.handleEmailVerificationRequest)
	a.mux.HandleFunc("/v1/auth/email/confirm", a.handleEmailVerificationConfirm)
	a.mux.HandleFunc("/v1/auth/password/request", a.handlePasswordResetRequest)
	a.mux.HandleFunc("/v1/auth/password/confirm", a.handlePasswordResetConfirm)

	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/admin/tokens/revoke", a.handleAdminRevoke)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "turn-identity",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "turn-identity",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
