// Package chat contains Parley's message operations and room persistence
// primitives. It owns the only mutation path for messages; the realtime
// gateway and the HTTP room API both go through it.
package chat

import "time"

// Message is the canonical persisted message representation.
//
// Image is a stored attachment reference (media path), empty when the
// message has no attachment.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"-"`
	Sender     string    `json:"sender"`
	SenderID   string    `json:"-"`
	Body       string    `json:"msg"`
	Image      string    `json:"image,omitempty"`
	TimeSent   time.Time `json:"time_sent"`
	LastChange time.Time `json:"last_change"`
}

// RoomSnapshot is the room view sent to a client right after connecting and
// returned by the HTTP room endpoint. Msgs holds the most recent messages,
// newest first.
type RoomSnapshot struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Users []string  `json:"users"`
	Msgs  []Message `json:"msgs"`
}

// EnvelopeKind tags a broadcast envelope.
type EnvelopeKind string

const (
	KindNew    EnvelopeKind = "new"
	KindUpdate EnvelopeKind = "update"
	KindDelete EnvelopeKind = "delete"
)

// Envelope is the normalized result of a message mutation, handed to the
// broadcast dispatcher. Message is set for new/update; ID alone for delete.
type Envelope struct {
	Kind    EnvelopeKind
	RoomID  string
	Message *Message
	ID      string
}
