package realtime

import (
	"sync"
	"sync/atomic"

	"parley/cmd/internal/auth"
)

// SessionState tracks where a connection is in its lifecycle. Transitions
// only move forward: Connecting -> Authorizing -> Active -> Closing -> Closed.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthorizing
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live realtime connection belonging to one user in one room.
//
// Design notes:
//   - send is intentionally NOT closed by the server so concurrent
//     broadcasters can never hit a closed channel.
//   - done signals the session's goroutines to stop; Close is idempotent.
//   - The session is owned by its transport handler; the Registry only holds
//     a reference.
type Session struct {
	RoomID string
	User   auth.Identity

	// Slot is assigned by the Registry at registration and used to address
	// the session for removal.
	Slot uint64

	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	closeOnce sync.Once
}

// NewSession constructs a Session with a bounded outbound queue.
func NewSession(roomID string, user auth.Identity, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	s := &Session{
		RoomID: roomID,
		User:   user,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// setState advances the lifecycle; transitions never move backward.
func (s *Session) setState(next SessionState) {
	for {
		cur := s.state.Load()
		if cur >= int32(next) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Outbound returns the session's delivery channel for its writer goroutine.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done returns a channel closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// TryDeliver enqueues a pre-encoded frame without blocking. It reports false
// when the session is shutting down or its queue is full; the caller treats
// that as a delivery failure, not a fatal condition.
func (s *Session) TryDeliver(frame []byte) bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close signals the session's goroutines to stop (idempotent). It does NOT
// close send, keeping broadcast safe under concurrency.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.done)
	})
}
