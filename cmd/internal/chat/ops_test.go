package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"parley/cmd/internal/auth"
)

func newTestOps(t *testing.T) (*Ops, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	ctx := context.Background()
	for _, u := range []auth.User{
		{ID: "u-alice", Username: "alice"},
		{ID: "u-bob", Username: "bob"},
	} {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s): %v", u.Username, err)
		}
	}
	store.AddRoom("room-1", "General", "u-alice", "u-bob")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOps(log, store), store
}

func TestOpsCreateProducesNewEnvelope(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	ctx := context.Background()

	env, err := ops.Create(ctx, "room-1", "u-alice", "  hello  ", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if env.Kind != KindNew || env.RoomID != "room-1" {
		t.Fatalf("unexpected envelope: kind=%v room=%q", env.Kind, env.RoomID)
	}
	if env.Message == nil {
		t.Fatalf("new envelope carries no message")
	}
	if env.Message.Body != "hello" {
		t.Fatalf("body not trimmed: %q", env.Message.Body)
	}
	if env.Message.Sender != "alice" {
		t.Fatalf("expected sender username alice, got %q", env.Message.Sender)
	}
	if env.Message.ID == "" {
		t.Fatalf("message got no id")
	}
	if env.Message.TimeSent.IsZero() || !env.Message.LastChange.Equal(env.Message.TimeSent) {
		t.Fatalf("timestamps not initialized: sent=%v change=%v", env.Message.TimeSent, env.Message.LastChange)
	}
}

func TestOpsCreateRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	ctx := context.Background()

	cases := []struct {
		name               string
		room, sender, body string
	}{
		{"empty body", "room-1", "u-alice", "   "},
		{"missing room", "", "u-alice", "hi"},
		{"missing sender", "room-1", "", "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ops.Create(ctx, tc.room, tc.sender, tc.body, ""); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestOpsCreateWithImageOnlyIsAllowed(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)

	env, err := ops.Create(context.Background(), "room-1", "u-alice", "", "room-1-abc.png")
	if err != nil {
		t.Fatalf("Create with image: %v", err)
	}
	if env.Message.Image != "room-1-abc.png" {
		t.Fatalf("image not carried through: %q", env.Message.Image)
	}
}

func TestOpsUpdateOwnershipRule(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	ctx := context.Background()

	created, err := ops.Create(ctx, "room-1", "u-alice", "original", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msgID := created.Message.ID

	// A non-sender update fails and leaves the row untouched.
	if _, err := ops.Update(ctx, msgID, "u-bob", "hijacked"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-sender, got %v", err)
	}
	snap, err := ops.Snapshot(ctx, "room-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Msgs[0].Body != "original" {
		t.Fatalf("forbidden update mutated the message: %q", snap.Msgs[0].Body)
	}

	env, err := ops.Update(ctx, msgID, "u-alice", "edited")
	if err != nil {
		t.Fatalf("Update by sender: %v", err)
	}
	if env.Kind != KindUpdate || env.RoomID != "room-1" {
		t.Fatalf("unexpected envelope: kind=%v room=%q", env.Kind, env.RoomID)
	}
	if env.Message.Body != "edited" {
		t.Fatalf("body not updated: %q", env.Message.Body)
	}
	if env.Message.LastChange.Before(env.Message.TimeSent) {
		t.Fatalf("last_change went backwards: %v < %v", env.Message.LastChange, env.Message.TimeSent)
	}
}

func TestOpsUpdateUnknownMessage(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	if _, err := ops.Update(context.Background(), "no-such-id", "u-alice", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpsDeleteOwnershipRule(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	ctx := context.Background()

	created, err := ops.Create(ctx, "room-1", "u-alice", "to be deleted", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msgID := created.Message.ID

	if _, err := ops.Delete(ctx, msgID, "u-bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-sender, got %v", err)
	}

	env, err := ops.Delete(ctx, msgID, "u-alice")
	if err != nil {
		t.Fatalf("Delete by sender: %v", err)
	}
	if env.Kind != KindDelete || env.RoomID != "room-1" || env.ID != msgID {
		t.Fatalf("unexpected delete envelope: %+v", env)
	}
	if env.Message != nil {
		t.Fatalf("delete envelope should carry only the id")
	}

	// A second delete of the same id is NotFound, not a silent success.
	if _, err := ops.Delete(ctx, msgID, "u-alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}

	snap, err := ops.Snapshot(ctx, "room-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Msgs) != 0 {
		t.Fatalf("deleted message still in the room log: %+v", snap.Msgs)
	}
}

func TestOpsSnapshotReturnsNewestFiveFirst(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		if _, err := ops.Create(ctx, "room-1", "u-alice", fmt.Sprintf("message %d", i), ""); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}

	snap, err := ops.Snapshot(ctx, "room-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ID != "room-1" || snap.Name != "General" {
		t.Fatalf("unexpected snapshot header: id=%q name=%q", snap.ID, snap.Name)
	}
	if len(snap.Users) != 2 {
		t.Fatalf("expected 2 members, got %v", snap.Users)
	}
	if len(snap.Msgs) != 5 {
		t.Fatalf("expected the 5 most recent messages, got %d", len(snap.Msgs))
	}
	for i, want := range []string{"message 8", "message 7", "message 6", "message 5", "message 4"} {
		if snap.Msgs[i].Body != want {
			t.Fatalf("msgs[%d] = %q, want %q (newest first)", i, snap.Msgs[i].Body, want)
		}
	}
}

func TestOpsSnapshotUnknownRoom(t *testing.T) {
	t.Parallel()

	ops, _ := newTestOps(t)
	if _, err := ops.Snapshot(context.Background(), "no-such-room"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpsIsMember(t *testing.T) {
	t.Parallel()

	ops, store := newTestOps(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, auth.User{ID: "u-carol", Username: "carol"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	cases := []struct {
		room, user string
		want       bool
	}{
		{"room-1", "u-alice", true},
		{"room-1", "u-carol", false},
		{"no-such-room", "u-alice", false},
	}
	for _, tc := range cases {
		got, err := ops.IsMember(ctx, tc.room, tc.user)
		if err != nil {
			t.Fatalf("IsMember(%s, %s): %v", tc.room, tc.user, err)
		}
		if got != tc.want {
			t.Fatalf("IsMember(%s, %s) = %v, want %v", tc.room, tc.user, got, tc.want)
		}
	}
}
