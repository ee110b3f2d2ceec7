package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"
)

func newTestEnvelope(roomID, body string) chat.Envelope {
	now := time.Now().UTC()
	return chat.Envelope{
		Kind:   chat.KindNew,
		RoomID: roomID,
		Message: &chat.Message{
			ID:         "01TEST",
			RoomID:     roomID,
			Sender:     "alice",
			Body:       body,
			TimeSent:   now,
			LastChange: now,
		},
	}
}

func drainOne(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case frame := <-s.Outbound():
		return frame
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestDispatcher_DeliversToAllRoomSessions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	d := NewDispatcher(testLogger(), reg, nil)

	a := NewSession("room-1", auth.Identity{UserID: "a", Username: "alice"}, 8)
	b := NewSession("room-1", auth.Identity{UserID: "b", Username: "bob"}, 8)
	other := NewSession("room-2", auth.Identity{UserID: "c", Username: "carol"}, 8)

	a.Slot = reg.Register("room-1", a)
	b.Slot = reg.Register("room-1", b)
	other.Slot = reg.Register("room-2", other)

	d.Broadcast(newTestEnvelope("room-1", "hi"))

	for _, s := range []*Session{a, b} {
		frame := drainOne(t, s)
		var out struct {
			Type string `json:"type"`
			Msg  struct {
				Msg string `json:"msg"`
			} `json:"msg"`
		}
		if err := json.Unmarshal(frame, &out); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if out.Type != "new" || out.Msg.Msg != "hi" {
			t.Fatalf("unexpected frame %s", frame)
		}
	}

	select {
	case frame := <-other.Outbound():
		t.Fatalf("session in another room received %s", frame)
	default:
	}
}

func TestDispatcher_DeadRecipientDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	d := NewDispatcher(testLogger(), reg, nil)

	// Fill the victim's queue to force a delivery failure.
	full := NewSession("room-1", auth.Identity{UserID: "a", Username: "alice"}, 1)
	for full.TryDeliver([]byte("x")) {
	}

	closed := NewSession("room-1", auth.Identity{UserID: "b", Username: "bob"}, 8)
	closed.Close()

	healthy := NewSession("room-1", auth.Identity{UserID: "c", Username: "carol"}, 8)

	full.Slot = reg.Register("room-1", full)
	closed.Slot = reg.Register("room-1", closed)
	healthy.Slot = reg.Register("room-1", healthy)

	d.Broadcast(newTestEnvelope("room-1", "still here"))

	if frame := drainOne(t, healthy); frame == nil {
		t.Fatal("healthy session must still receive the envelope")
	}

	// The overflowing recipient is flagged for disconnect.
	select {
	case <-full.Done():
	default:
		t.Fatal("full session should have been signalled to close")
	}
	if healthy.State() == StateClosing || healthy.State() == StateClosed {
		t.Fatal("healthy session must not be closed by a peer's delivery failure")
	}
}

func TestDispatcher_SnapshotScopesDelivery(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	d := NewDispatcher(testLogger(), reg, nil)

	a := NewSession("room-1", auth.Identity{UserID: "a", Username: "alice"}, 8)
	a.Slot = reg.Register("room-1", a)

	late := NewSession("room-1", auth.Identity{UserID: "b", Username: "bob"}, 8)

	d.Broadcast(newTestEnvelope("room-1", "first"))

	// Registered after the broadcast: must not observe it.
	late.Slot = reg.Register("room-1", late)
	select {
	case frame := <-late.Outbound():
		t.Fatalf("late joiner received pre-join broadcast %s", frame)
	default:
	}

	if frame := drainOne(t, a); frame == nil {
		t.Fatal("present session must receive the envelope")
	}
}

func TestDispatcher_BroadcastToEmptyRoomIsNoop(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	d := NewDispatcher(testLogger(), reg, nil)

	// Must not panic or create a room entry.
	d.Broadcast(newTestEnvelope("ghost-room", "anyone?"))
	if reg.HasRoom("ghost-room") {
		t.Fatal("broadcast must not create room entries")
	}
}
