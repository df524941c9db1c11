// Package common defines shared constants and sentinel errors used across
// client and server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors. ErrInvalidToken means the token is malformed or has a
	// bad signature; ErrTokenExpired means it was valid once; and
	// ErrSessionRevoked means the token verified but its session record
	// is gone, so the client must log in again rather than refresh.
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrSessionRevoked = errors.New("session revoked")

	// Refresh-token lifecycle errors.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")

	// Realtime errors.
	ErrUserOffline  = errors.New("user offline")
	ErrCallEnded    = errors.New("call already ended")
	ErrNotInCall    = errors.New("not a call participant")
	ErrSpoofedActor = errors.New("sender does not match connection identity")
)
