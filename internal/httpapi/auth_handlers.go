package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"turn.careers/internal/audit"
	"turn.careers/internal/authz"
	"turn.careers/internal/identity"
	"turn.careers/internal/otp"
	"turn.careers/internal/token"
	"turn.careers/internal/verify"
)

type otpRequestBody struct {
	Destination string `json:"destination"`
	Purpose     string `json:"purpose"`
}

type otpVerifyBody struct {
	Destination string `json:"destination"`
	Purpose     string `json:"purpose"`
	Code        string `json:"code"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type linkRequestBody struct {
	Destination string `json:"destination"`
}

type confirmBody struct {
	Token string `json:"token"`
}

type adminRevokeBody struct {
	TokenID string `json:"token_id"`
	ChainID string `json:"chain_id"`
}

type pairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairPayload(p token.Pair) pairResponse {
	return pairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func parseOTPPurpose(raw string) (otp.Purpose, error) {
	switch otp.Purpose(strings.ToLower(strings.TrimSpace(raw))) {
	case otp.PurposeLogin:
		return otp.PurposeLogin, nil
	case otp.PurposeVerification:
		return otp.PurposeVerification, nil
	case otp.PurposeReset:
		return otp.PurposeReset, nil
	default:
		return "", fmt.Errorf("unknown purpose %q", raw)
	}
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req otpRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		writeError(w, r, http.StatusBadRequest, "destination is required")
		return
	}
	purpose, err := parseOTPPurpose(req.Purpose)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	code, err := a.codes.RequestCode(r.Context(), destination, purpose)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.messenger.Send(r.Context(), destination, "Your confirmation code: "+code); err != nil {
		writeError(w, r, http.StatusBadGateway, "delivery failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.otp.requested", map[string]any{
		"purpose": string(purpose),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req otpVerifyBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "destination and code are required")
		return
	}
	purpose, err := parseOTPPurpose(req.Purpose)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.codes.VerifyCode(r.Context(), destination, purpose, req.Code); err != nil {
		if errors.Is(err, otp.ErrLockedOut) {
			_ = audit.LogEvent(r.Context(), "auth.otp.locked_out", map[string]any{
				"purpose": string(purpose),
			})
		}
		handleAuthError(w, r, err)
		return
	}

	account, err := a.directory.AccountByDestination(r.Context(), destination)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	if !account.Active {
		writeError(w, r, http.StatusForbidden, "account disabled")
		return
	}

	pair, err := a.tokens.IssuePair(r.Context(), authz.Principal{
		ID:       account.ID,
		Role:     account.Role,
		Active:   account.Active,
		Verified: account.Verified,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"subject":    account.ID,
		"role":       account.Role.String(),
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, pairPayload(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.tokens.RotateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrReuseDetected) {
			_ = audit.LogEvent(r.Context(), "auth.token.reuse_detected", nil)
		}
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.rotated", map[string]any{
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, pairPayload(pair))
}

// handleLogout revokes the presented access token and tears down its
// rotation chain, so the paired refresh token dies with the session.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := principalOr401(w, r); !ok {
		return
	}
	artifact, ok := authz.TokenFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, identity.ErrUnauthenticated)
		return
	}

	ident, err := a.tokens.VerifyAccessToken(r.Context(), artifact)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.tokens.Revoke(r.Context(), ident.TokenID, time.Time{}); err != nil {
		handleAuthError(w, r, err)
		return
	}
	if ident.ChainID != "" {
		if err := a.tokens.RevokeChain(r.Context(), ident.ChainID); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.session.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEmailVerificationRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req linkRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		writeError(w, r, http.StatusBadRequest, "destination is required")
		return
	}

	artifact, err := a.verifications.Issue(r.Context(), principal.ID, verify.PurposeEmailVerification)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.messenger.Send(r.Context(), destination, "Confirm your address: "+artifact); err != nil {
		writeError(w, r, http.StatusBadGateway, "delivery failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.verification.requested", map[string]any{
		"purpose": string(verify.PurposeEmailVerification),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleEmailVerificationConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req confirmBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	subjectID, err := a.verifications.Consume(r.Context(), req.Token, verify.PurposeEmailVerification)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.email.verified", map[string]any{
		"subject": subjectID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "verified",
		"subject_id": subjectID,
	})
}

func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req linkRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		writeError(w, r, http.StatusBadRequest, "destination is required")
		return
	}

	// The response never reveals whether the destination is registered.
	account, err := a.directory.AccountByDestination(r.Context(), destination)
	switch {
	case errors.Is(err, identity.ErrAccountNotFound):
	case err != nil:
		handleAuthError(w, r, err)
		return
	default:
		artifact, issueErr := a.verifications.Issue(r.Context(), account.ID, verify.PurposePasswordReset)
		if issueErr != nil {
			handleAuthError(w, r, issueErr)
			return
		}
		if sendErr := a.messenger.Send(r.Context(), destination, "Reset your password: "+artifact); sendErr != nil {
			writeError(w, r, http.StatusBadGateway, "delivery failed")
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.reset.requested", map[string]any{
			"subject": account.ID,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req confirmBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	subjectID, err := a.verifications.Consume(r.Context(), req.Token, verify.PurposePasswordReset)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.reset.confirmed", map[string]any{
		"subject": subjectID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "confirmed",
		"subject_id": subjectID,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       principal.ID,
		"role":     principal.Role.String(),
		"active":   principal.Active,
		"verified": principal.Verified,
	})
}

func (a *API) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	if err := authz.RequirePermission(principal, authz.PermAdminWrite); err != nil {
		handleAuthError(w, r, err)
		return
	}

	var req adminRevokeBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tokenID := strings.TrimSpace(req.TokenID)
	chainID := strings.TrimSpace(req.ChainID)
	if tokenID == "" && chainID == "" {
		writeError(w, r, http.StatusBadRequest, "token_id or chain_id is required")
		return
	}

	if tokenID != "" {
		if err := a.tokens.Revoke(r.Context(), tokenID, time.Time{}); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}
	if chainID != "" {
		if err := a.tokens.RevokeChain(r.Context(), chainID); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.token.revoked", map[string]any{
		"token_id": tokenID,
		"chain_id": chainID,
	})
	w.WriteHeader(http.StatusNoContent)
}
