package auth

import (
	"context"
	"time"
)

// User is a persisted account record. PasswordHash is a bcrypt hash; the
// plaintext is never stored.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrUserExists when the
	// username is taken.
	CreateUser(ctx context.Context, u User) error

	// GetUserByUsername returns ErrUserNotFound on a miss.
	GetUserByUsername(ctx context.Context, username string) (User, error)
}
