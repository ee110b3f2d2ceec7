package realtime

import (
	"log/slog"

	"parley/cmd/internal/chat"
)

// Dispatcher delivers broadcast envelopes to every live session in a room.
//
// It is the single fan-out entry point: session read loops and the HTTP
// injection handler both go through Broadcast, so an HTTP-originated message
// reaches realtime listeners exactly like a websocket-originated one.
type Dispatcher struct {
	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
}

// NewDispatcher constructs a Dispatcher over the given registry.
func NewDispatcher(log *slog.Logger, reg *Registry, m *Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, reg: reg, metrics: m}
}

// Broadcast encodes the envelope once and pushes it to every session
// registered for the envelope's room at snapshot time.
//
// A recipient that cannot accept the frame (queue full, or already shutting
// down) is a delivery failure: it is logged, counted, and the recipient is
// signalled to close so its transport handler reaps it. Failures never
// prevent delivery to the remaining sessions and never propagate to the
// caller; by the time Broadcast runs, the persistence mutation has already
// committed.
func (d *Dispatcher) Broadcast(env chat.Envelope) {
	frame, err := EncodeEnvelope(env)
	if err != nil {
		d.log.Error("broadcast.encode.fail", "room_id", env.RoomID, "kind", env.Kind, "err", err)
		return
	}

	sessions := d.reg.Snapshot(env.RoomID)
	delivered := 0
	for _, s := range sessions {
		if s.TryDeliver(frame) {
			delivered++
			continue
		}

		// Pending disconnect: the session's own teardown path performs the
		// registry cleanup exactly once.
		d.metrics.deliveryDrop()
		d.log.Warn("broadcast.drop",
			"room_id", env.RoomID,
			"kind", env.Kind,
			"slot", s.Slot,
			"user", s.User.Username,
			"state", s.State().String(),
		)
		s.Close()
	}

	d.metrics.broadcast(string(env.Kind))
	d.log.Debug("broadcast",
		"room_id", env.RoomID,
		"kind", env.Kind,
		"recipients", len(sessions),
		"delivered", delivered,
	)
}
