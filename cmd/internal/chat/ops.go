package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/cmd/internal/ids"
)

// Ops implements the message operations: validated create/update/delete of a
// chat message, producing the normalized broadcast envelope.
//
// Ops is the only mutation path for messages. Ownership ("only the sender may
// update or delete") is enforced by the store inside the same atomic unit as
// the mutation, so a Forbidden outcome can never leave a partial write.
type Ops struct {
	log   *slog.Logger
	store Store
}

// NewOps constructs the message operations service.
func NewOps(log *slog.Logger, store Store) *Ops {
	return &Ops{log: log, store: store}
}

// Snapshot returns the connect-time room view: metadata, member usernames,
// and the most recent messages.
func (o *Ops) Snapshot(ctx context.Context, roomID string) (RoomSnapshot, error) {
	return o.store.RoomSnapshot(ctx, roomID, snapshotMessages)
}

// IsMember reports whether userID belongs to roomID.
func (o *Ops) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return o.store.IsMember(ctx, roomID, userID)
}

// Create persists a new message and returns a {kind: new} envelope.
func (o *Ops) Create(ctx context.Context, roomID, senderID, body, image string) (Envelope, error) {
	body = strings.TrimSpace(body)
	if roomID == "" || senderID == "" {
		return Envelope{}, ErrInvalidInput
	}
	if body == "" && image == "" {
		return Envelope{}, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	now := time.Now().UTC()
	msgID, err := ids.NewULID(now)
	if err != nil {
		return Envelope{}, fmt.Errorf("new message id: %w", err)
	}

	msg, err := o.store.InsertMessage(ctx, InsertMessageInput{
		MsgID:    msgID,
		RoomID:   roomID,
		SenderID: senderID,
		Body:     body,
		Image:    image,
		Now:      now,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("insert message: %w", err)
	}

	o.log.Info("msg.create", "room_id", roomID, "msg_id", msg.ID, "sender_id", senderID)
	return Envelope{Kind: KindNew, RoomID: roomID, Message: &msg}, nil
}

// Update mutates the body of an existing message and returns a
// {kind: update} envelope. Fails with ErrForbidden when requesterID is not
// the original sender; the stored row is untouched on any failure.
func (o *Ops) Update(ctx context.Context, msgID, requesterID, body string) (Envelope, error) {
	body = strings.TrimSpace(body)
	if msgID == "" || requesterID == "" || body == "" {
		return Envelope{}, ErrInvalidInput
	}

	msg, err := o.store.UpdateMessage(ctx, msgID, requesterID, body, time.Now().UTC())
	if err != nil {
		return Envelope{}, err
	}

	o.log.Info("msg.update", "room_id", msg.RoomID, "msg_id", msg.ID, "requester_id", requesterID)
	return Envelope{Kind: KindUpdate, RoomID: msg.RoomID, Message: &msg}, nil
}

// Delete removes a message and returns a {kind: delete} envelope carrying the
// deleted id. Same ownership rule as Update.
func (o *Ops) Delete(ctx context.Context, msgID, requesterID string) (Envelope, error) {
	if msgID == "" || requesterID == "" {
		return Envelope{}, ErrInvalidInput
	}

	roomID, err := o.store.DeleteMessage(ctx, msgID, requesterID)
	if err != nil {
		return Envelope{}, err
	}

	o.log.Info("msg.delete", "room_id", roomID, "msg_id", msgID, "requester_id", requesterID)
	return Envelope{Kind: KindDelete, RoomID: roomID, ID: msgID}, nil
}
