package chat

import (
	"context"
	"time"
)

const (
	// snapshotMessages is how many recent messages the initial room
	// snapshot carries.
	snapshotMessages = 5
)

// Store persists rooms, membership, and messages.
//
// Requirements:
//   - InsertMessage/UpdateMessage/DeleteMessage are atomic: no partial write
//     is ever visible to a concurrent reader.
//   - UpdateMessage/DeleteMessage enforce ownership in the same atomic unit
//     as the mutation and distinguish ErrForbidden from ErrNotFound.
//   - RoomSnapshot returns the most recent messages newest first.
type Store interface {
	// RoomSnapshot fetches room metadata, member usernames, and the most
	// recent limit messages. Returns ErrNotFound for an unknown room.
	RoomSnapshot(ctx context.Context, roomID string, limit int) (RoomSnapshot, error)

	// IsMember reports whether userID is a member of roomID.
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error)
	UpdateMessage(ctx context.Context, msgID, requesterID, body string, now time.Time) (Message, error)

	// DeleteMessage removes the row and returns the room id it belonged to,
	// which the caller needs to address the broadcast.
	DeleteMessage(ctx context.Context, msgID, requesterID string) (roomID string, err error)

	Close() error
}

// InsertMessageInput describes a message create request.
type InsertMessageInput struct {
	MsgID    string
	RoomID   string
	SenderID string
	Body     string
	Image    string
	Now      time.Time
}
