package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parley/cmd/internal/auth"
)

// MemoryStore is the in-memory fallback used when no database is configured,
// and the backing store for tests. It implements both chat.Store and
// auth.UserStore so dev mode runs entirely without external services.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]auth.User // keyed by username
	byID  map[string]string    // user id -> username
	rooms map[string]*memRoom
	msgs  map[string]*Message // message id -> row (also present in room log)
}

type memRoom struct {
	name    string
	members map[string]struct{} // user ids
	log     []*Message          // append order == time_sent order
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]auth.User),
		byID:  make(map[string]string),
		rooms: make(map[string]*memRoom),
		msgs:  make(map[string]*Message),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// AddRoom creates a room with the given members. Dev/test seeding helper.
func (s *MemoryStore) AddRoom(roomID, name string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &memRoom{name: name, members: make(map[string]struct{}, len(memberIDs))}
	for _, id := range memberIDs {
		r.members[id] = struct{}{}
	}
	s.rooms[roomID] = r
}

// ---- auth.UserStore ----

// CreateUser inserts a user, failing with ErrUserExists on a username clash.
func (s *MemoryStore) CreateUser(ctx context.Context, u auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Username]; ok {
		return auth.ErrUserExists
	}
	s.users[u.Username] = u
	s.byID[u.ID] = u.Username
	return nil
}

// GetUserByUsername looks a user up by username.
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	if err := ctx.Err(); err != nil {
		return auth.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

// ---- chat.Store ----

// RoomSnapshot returns room metadata, member usernames, and the most recent
// limit messages (newest first).
func (s *MemoryStore) RoomSnapshot(ctx context.Context, roomID string, limit int) (RoomSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return RoomSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	snap := RoomSnapshot{ID: roomID, Name: r.name, Users: make([]string, 0, len(r.members))}
	for id := range r.members {
		if name, ok := s.byID[id]; ok {
			snap.Users = append(snap.Users, name)
		}
	}

	if limit <= 0 {
		limit = snapshotMessages
	}
	snap.Msgs = make([]Message, 0, limit)
	for i := len(r.log) - 1; i >= 0 && len(snap.Msgs) < limit; i-- {
		snap.Msgs = append(snap.Msgs, *r.log[i])
	}
	return snap, nil
}

// IsMember reports whether userID belongs to roomID.
func (s *MemoryStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, ok = r.members[userID]
	return ok, nil
}

// InsertMessage appends a message to the room log.
func (s *MemoryStore) InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.MsgID == "" || in.RoomID == "" || in.SenderID == "" {
		return Message{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Message{}, fmt.Errorf("room %s: %w", in.RoomID, ErrNotFound)
	}

	msg := &Message{
		ID:         in.MsgID,
		RoomID:     in.RoomID,
		Sender:     s.byID[in.SenderID],
		SenderID:   in.SenderID,
		Body:       in.Body,
		Image:      in.Image,
		TimeSent:   now,
		LastChange: now,
	}
	r.log = append(r.log, msg)
	s.msgs[msg.ID] = msg
	return *msg, nil
}

// UpdateMessage mutates a message body under the ownership rule.
func (s *MemoryStore) UpdateMessage(ctx context.Context, msgID, requesterID, body string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[msgID]
	if !ok {
		return Message{}, fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	if msg.SenderID != requesterID {
		return Message{}, ErrForbidden
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	msg.Body = body
	msg.LastChange = now
	return *msg, nil
}

// DeleteMessage removes a message under the ownership rule and returns the
// room id it belonged to.
func (s *MemoryStore) DeleteMessage(ctx context.Context, msgID, requesterID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[msgID]
	if !ok {
		return "", fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	if msg.SenderID != requesterID {
		return "", ErrForbidden
	}

	delete(s.msgs, msgID)
	if r, ok := s.rooms[msg.RoomID]; ok {
		for i, m := range r.log {
			if m.ID == msgID {
				r.log = append(r.log[:i], r.log[i+1:]...)
				break
			}
		}
	}
	return msg.RoomID, nil
}
