// Package auth maps bearer credentials to user identities and serves the
// register/login endpoints that issue those credentials.
package auth

import (
	"context"
	"errors"
	"time"
)

// Identity is an authenticated user as seen by the rest of the server.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator resolves a bearer credential to an identity.
// The realtime gateway validates the credential before the websocket
// upgrade completes.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, now time.Time) (Identity, error)
}

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserExists is returned when registering an already taken username.
	ErrUserExists = errors.New("username already taken")

	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
)
