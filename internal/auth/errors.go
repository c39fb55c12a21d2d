package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are never distinguished to the caller.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountDisabled is a precondition failure distinct from a
	// credential failure; the account state is not a secret.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrEmailNotVerified blocks issuance until verification completes.
	ErrEmailNotVerified = errors.New("auth: email not verified")
	// ErrInvalidOrExpiredToken covers refresh verification failure and
	// "no matching active session" uniformly, so callers cannot probe
	// session state.
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired refresh token")
	// ErrInsufficientPermissions is an authorization denial.
	ErrInsufficientPermissions = errors.New("auth: insufficient permissions")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)
