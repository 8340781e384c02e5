package token

import "errors"

var (
	// ErrExpired indicates the artifact is past its expiry (inclusive).
	ErrExpired = errors.New("token: expired")
	// ErrMalformed indicates the artifact could not be parsed or carries
	// claims that make no sense.
	ErrMalformed = errors.New("token: malformed")
	// ErrSignatureInvalid indicates the signature or refresh secret did not
	// verify against the stored material.
	ErrSignatureInvalid = errors.New("token: signature invalid")
	// ErrRevoked indicates the token or its rotation chain is on the
	// deny-list.
	ErrRevoked = errors.New("token: revoked")
	// ErrReuseDetected indicates an already-used refresh token was presented
	// again. The whole rotation chain is invalidated.
	ErrReuseDetected = errors.New("token: refresh reuse detected")
	// ErrSigningKey indicates fatal key misconfiguration. Issuance halts; the
	// error is never surfaced to end users.
	ErrSigningKey = errors.New("token: signing key not configured")
)
