package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserStore persists accounts in PostgreSQL. The pool is owned by
// the caller.
type PostgresUserStore struct {
	pool   *pgxpool.Pool
	schema string
}

// UserStoreOption configures PostgresUserStore behavior.
type UserStoreOption func(*PostgresUserStore) error

// WithUserSchema sets the DB schema used by the user store (default: "parley").
func WithUserSchema(schema string) UserStoreOption {
	return func(s *PostgresUserStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !userIdentRE.MatchString(schema) {
			return errors.New("auth: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresUserStore constructs a Postgres-backed UserStore.
func NewPostgresUserStore(pool *pgxpool.Pool, opts ...UserStoreOption) (*PostgresUserStore, error) {
	st := &PostgresUserStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("auth: nil pool")
	}
	return st, nil
}

// CreateUser inserts a new account row.
func (s *PostgresUserStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Username == "" || u.PasswordHash == "" {
		return errors.New("auth: invalid user")
	}

	users := pgx.Identifier{s.schema, "users"}.Sanitize()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByUsername looks an account up by username.
func (s *PostgresUserStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	users := pgx.Identifier{s.schema, "users"}.Sanitize()

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM `+users+` WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

var userIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
