package models

import "errors"

// Sentinel errors shared across repositories, services and handlers.
// Handlers map these onto HTTP status codes; everything else wraps them
// with fmt.Errorf("...: %w", ...).
var (
	ErrValidation         = errors.New("invalid request")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrInvalidCode        = errors.New("invalid code")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRefreshReuse       = errors.New("refresh token reuse detected")
	ErrConflict           = errors.New("already exists")
	ErrSessionNotFound    = errors.New("session not found or revoked")
	ErrProvider           = errors.New("otp provider unavailable")
)
