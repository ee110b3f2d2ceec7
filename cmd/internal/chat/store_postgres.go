package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Atomicity model:
// - Every mutation runs as a single statement or a single transaction, so
//   ownership checks and the mutation they guard commit together.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// RoomSnapshot fetches room metadata, member usernames, and the most recent
// limit messages (newest first).
func (s *PostgresStore) RoomSnapshot(ctx context.Context, roomID string, limit int) (RoomSnapshot, error) {
	if s == nil || s.pool == nil {
		return RoomSnapshot{}, errors.New("chat: nil store")
	}
	if roomID == "" {
		return RoomSnapshot{}, ErrInvalidInput
	}
	if limit <= 0 {
		limit = snapshotMessages
	}

	rooms := pgIdent(s.schema, "rooms")
	members := pgIdent(s.schema, "room_members")
	users := pgIdent(s.schema, "users")
	messages := pgIdent(s.schema, "messages")

	snap := RoomSnapshot{ID: roomID}

	err := s.pool.QueryRow(ctx,
		`SELECT name FROM `+rooms+` WHERE id = $1`,
		roomID,
	).Scan(&snap.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoomSnapshot{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return RoomSnapshot{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT u.username
		   FROM `+members+` m
		   JOIN `+users+` u ON u.id = m.user_id
		  WHERE m.room_id = $1
		  ORDER BY u.username ASC`,
		roomID,
	)
	if err != nil {
		return RoomSnapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return RoomSnapshot{}, err
		}
		snap.Users = append(snap.Users, name)
	}
	if err := rows.Err(); err != nil {
		return RoomSnapshot{}, err
	}

	msgRows, err := s.pool.Query(ctx,
		`SELECT m.id, m.room_id, u.username, m.sender_id, m.body, m.image, m.time_sent, m.last_change
		   FROM `+messages+` m
		   JOIN `+users+` u ON u.id = m.sender_id
		  WHERE m.room_id = $1
		  ORDER BY m.time_sent DESC
		  LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return RoomSnapshot{}, err
	}
	defer msgRows.Close()

	snap.Msgs = make([]Message, 0, limit)
	for msgRows.Next() {
		var m Message
		if err := msgRows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.SenderID, &m.Body, &m.Image, &m.TimeSent, &m.LastChange); err != nil {
			return RoomSnapshot{}, err
		}
		snap.Msgs = append(snap.Msgs, m)
	}
	if err := msgRows.Err(); err != nil {
		return RoomSnapshot{}, err
	}

	return snap, nil
}

// IsMember checks membership via room_members.
func (s *PostgresStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" || userID == "" {
		return false, nil
	}

	members := pgIdent(s.schema, "room_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertMessage persists a new message row.
func (s *PostgresStore) InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if in.MsgID == "" || in.RoomID == "" || in.SenderID == "" {
		return Message{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")
	users := pgIdent(s.schema, "users")

	var m Message
	err := s.pool.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO `+messages+` (id, room_id, sender_id, body, image, time_sent, last_change)
		     VALUES ($1, $2, $3, $4, $5, $6, $6)
		     RETURNING id, room_id, sender_id, body, image, time_sent, last_change
		 )
		 SELECT ins.id, ins.room_id, u.username, ins.sender_id, ins.body, ins.image, ins.time_sent, ins.last_change
		   FROM ins JOIN `+users+` u ON u.id = ins.sender_id`,
		in.MsgID, in.RoomID, in.SenderID, in.Body, in.Image, now,
	).Scan(&m.ID, &m.RoomID, &m.Sender, &m.SenderID, &m.Body, &m.Image, &m.TimeSent, &m.LastChange)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// UpdateMessage mutates body and last_change when requesterID is the sender.
// The ownership predicate is part of the UPDATE itself, so a Forbidden
// outcome cannot mutate the row.
func (s *PostgresStore) UpdateMessage(ctx context.Context, msgID, requesterID, body string, now time.Time) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if msgID == "" || requesterID == "" {
		return Message{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")
	users := pgIdent(s.schema, "users")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var m Message
	err = tx.QueryRow(ctx,
		`WITH upd AS (
		     UPDATE `+messages+`
		        SET body = $3, last_change = $4
		      WHERE id = $1 AND sender_id = $2
		     RETURNING id, room_id, sender_id, body, image, time_sent, last_change
		 )
		 SELECT upd.id, upd.room_id, u.username, upd.sender_id, upd.body, upd.image, upd.time_sent, upd.last_change
		   FROM upd JOIN `+users+` u ON u.id = upd.sender_id`,
		msgID, requesterID, body, now,
	).Scan(&m.ID, &m.RoomID, &m.Sender, &m.SenderID, &m.Body, &m.Image, &m.TimeSent, &m.LastChange)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := classifyMiss(ctx, tx, messages, msgID); err != nil {
			return Message{}, err
		}
		return Message{}, ErrForbidden
	}
	if err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DeleteMessage removes the row when requesterID is the sender and returns
// the room id of the deleted message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, msgID, requesterID string) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("chat: nil store")
	}
	if msgID == "" || requesterID == "" {
		return "", ErrInvalidInput
	}

	messages := pgIdent(s.schema, "messages")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roomID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+messages+` WHERE id = $1 AND sender_id = $2 RETURNING room_id`,
		msgID, requesterID,
	).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := classifyMiss(ctx, tx, messages, msgID); err != nil {
			return "", err
		}
		return "", ErrForbidden
	}
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return roomID, nil
}

// classifyMiss distinguishes NotFound from Forbidden after an
// ownership-guarded mutation matched zero rows.
func classifyMiss(ctx context.Context, tx pgx.Tx, messagesTable, msgID string) error {
	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM `+messagesTable+` WHERE id = $1`,
		msgID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
