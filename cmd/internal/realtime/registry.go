// Package realtime contains Parley's websocket gateway and the per-room
// fan-out engine: registry, sessions, and broadcast dispatcher.
package realtime

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide mapping from room id to the set of live
// sessions, plus the per-room slot id generator.
//
// Concurrency model:
//   - registry.mu guards the room map; each entry carries its own mutex
//     guarding the session set and the slot counter.
//   - Lock order is always registry.mu before entry.mu, never the reverse.
//   - Guards are held only for the short register/unregister/snapshot
//     critical sections, never across persistence calls or network sends.
//
// The registry is confined to a single process: it is constructed at server
// start and passed by reference to every session handler. Horizontal scaling
// beyond one instance needs an external fan-out backbone and is out of scope.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	mu       sync.Mutex
	nextSlot uint64 // next slot id to hand out, starts at 1, never recycled
	sessions map[uint64]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		rooms: make(map[string]*roomEntry),
	}
}

// Register inserts the session into the room's live set, lazily creating the
// room entry, and returns the assigned slot id. Slot ids within a room are
// strictly increasing for the room entry's lifetime, so a stale session can
// never be confused with a fresh one after a rapid reconnect.
func (r *Registry) Register(roomID string, s *Session) uint64 {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	if !ok {
		e = &roomEntry{nextSlot: 1, sessions: make(map[uint64]*Session)}
		r.rooms[roomID] = e
	}
	e.mu.Lock()
	r.mu.Unlock()

	slot := e.nextSlot
	e.nextSlot++
	e.sessions[slot] = s
	e.mu.Unlock()

	r.log.Debug("registry.register", "room_id", roomID, "slot", slot)
	return slot
}

// Unregister removes the slot from the room's live set. When the last
// session leaves, the whole room entry is discarded so churned rooms do not
// accumulate. Unknown rooms and already-removed slots are no-ops, which
// makes duplicate disconnect delivery safe.
func (r *Registry) Unregister(roomID string, slot uint64) {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}

	e.mu.Lock()
	delete(e.sessions, slot)
	empty := len(e.sessions) == 0
	if empty {
		delete(r.rooms, roomID)
	}
	e.mu.Unlock()
	r.mu.Unlock()

	r.log.Debug("registry.unregister", "room_id", roomID, "slot", slot, "room_dropped", empty)
}

// Snapshot returns a copy of the room's current sessions for delivery.
// The copy is taken under the guard so a session mid-teardown is either
// fully present or fully absent.
func (r *Registry) Snapshot(roomID string) []*Session {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.mu.Lock()
	r.mu.Unlock()

	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.Unlock()
	return out
}

// SessionCount returns the number of live sessions in the room.
func (r *Registry) SessionCount(roomID string) int {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	e.mu.Lock()
	r.mu.Unlock()

	n := len(e.sessions)
	e.mu.Unlock()
	return n
}

// RoomCount returns the number of rooms with at least one live session.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// HasRoom reports whether the room currently has a live entry.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}
