package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"

	"github.com/coder/websocket"
)

// Options tune the gateway's transport behavior. Zero values fall back to
// the package defaults.
type Options struct {
	SendQueueSize int

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// OriginPatterns is handed to websocket.Accept for cross-origin checks.
	OriginPatterns []string

	// InsecureSkipVerify is a dev-only knob that disables origin checks.
	InsecureSkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize < minSendQueueSize {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = defaultReadIdle
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = heartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = heartbeatTimeout
	}
	if o.RateEvents <= 0 {
		o.RateEvents = rateLimitEvents
	}
	if o.RateWindow <= 0 {
		o.RateWindow = rateLimitWindow
	}
	return o
}

// Gateway is the websocket entrypoint for a chat room.
//
// A connection moves through Connecting -> Authorizing -> Active ->
// Closing -> Closed. Authentication happens before the upgrade completes;
// authorization (room membership) happens before the session ever touches
// the registry, so a refused connection leaves no trace in it.
type Gateway struct {
	log     *slog.Logger
	reg     *Registry
	disp    *Dispatcher
	ops     *chat.Ops
	authn   auth.Authenticator
	metrics *Metrics
	opts    Options
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, reg *Registry, disp *Dispatcher, ops *chat.Ops, authn auth.Authenticator, m *Metrics, opts Options) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:     log,
		reg:     reg,
		disp:    disp,
		ops:     ops,
		authn:   authn,
		metrics: m,
		opts:    opts.withDefaults(),
	}
}

// HandleWS upgrades the request and runs the session until disconnect.
// Routing (shared with the plain HTTP room endpoint) is wired by the app.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room_id"))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusNotFound)
		return
	}

	// Authentication gates the upgrade itself: a bad credential never gets
	// a websocket at all.
	now := time.Now().UTC()
	identity, err := g.authn.Authenticate(r.Context(), auth.BearerFromRequest(r), now)
	if err != nil {
		g.metrics.upgradeRefused("authentication")
		g.log.Info("ws.reject.auth", "room_id", roomID, "remote", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.opts.OriginPatterns,
		InsecureSkipVerify: g.opts.InsecureSkipVerify,
	})
	if err != nil {
		g.metrics.upgradeRefused("accept")
		g.log.Error("ws.accept.fail", "room_id", roomID, "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	session := NewSession(roomID, identity, g.opts.SendQueueSize)
	g.runSession(r.Context(), conn, session)
}

// runSession drives one connection's lifecycle. Split from HandleWS so tests
// can exercise the state machine against an already accepted conn.
func (g *Gateway) runSession(parent context.Context, conn *websocket.Conn, session *Session) {
	roomID := session.RoomID
	user := session.User

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Authorizing: membership is checked before the registry is touched.
	session.setState(StateAuthorizing)

	member, err := g.ops.IsMember(ctx, roomID, user.UserID)
	if err != nil {
		g.log.Error("ws.membership.fail", "room_id", roomID, "user", user.Username, "err", err)
		session.setState(StateClosed)
		_ = conn.Close(websocket.StatusInternalError, "membership check failed")
		return
	}
	if !member {
		g.metrics.upgradeRefused("authorization")
		g.log.Info("ws.reject.member", "room_id", roomID, "user", user.Username)
		session.setState(StateClosed)
		_ = conn.Close(websocket.StatusPolicyViolation, "not a member of this room")
		return
	}

	// The snapshot is fetched before registration and queued as the first
	// outbound frame, so the client always sees it ahead of any broadcast.
	snap, err := g.ops.Snapshot(ctx, roomID)
	if err != nil {
		g.log.Error("ws.snapshot.fail", "room_id", roomID, "err", err)
		session.setState(StateClosed)
		_ = conn.Close(websocket.StatusInternalError, "room snapshot failed")
		return
	}
	snapFrame, err := EncodeSnapshot(snap)
	if err != nil {
		g.log.Error("ws.snapshot.encode.fail", "room_id", roomID, "err", err)
		session.setState(StateClosed)
		_ = conn.Close(websocket.StatusInternalError, "room snapshot failed")
		return
	}
	session.TryDeliver(snapFrame)

	// Active: the session becomes visible to broadcasters.
	session.Slot = g.reg.Register(roomID, session)
	session.setState(StateActive)
	g.metrics.sessionOpened()
	g.metrics.roomCount(g.reg.RoomCount())
	g.log.Info("ws.session.open", "room_id", roomID, "slot", session.Slot, "user", user.Username)

	// shutdown is the only teardown path and runs exactly once, no matter
	// how many disconnect signals race in. Unregistering before closing the
	// socket keeps broadcasters from queueing into a dead session.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			session.setState(StateClosing)
			g.reg.Unregister(roomID, session.Slot)
			g.metrics.sessionClosed()
			g.metrics.roomCount(g.reg.RoomCount())

			session.Close()
			_ = conn.Close(code, reason)
			cancel()
			session.setState(StateClosed)
			g.log.Info("ws.session.close", "room_id", roomID, "slot", session.Slot, "reason", reason)
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.Done():
				return
			case frame := <-session.Outbound():
				if err := writeFrame(ctx, conn, frame, g.opts.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "room_id", roomID, "slot", session.Slot,
						"close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.opts.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "room_id", roomID, "slot", session.Slot, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "room_id", roomID, "slot", session.Slot, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			session.TryDeliver(EncodeError("bad_frame", "unsupported message type"))
			continue
		}

		if !rl.Allow(time.Now().UTC()) {
			session.TryDeliver(EncodeError("rate_limited", "too many operations"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		// A bad operation is local to this request: the offending session
		// gets an error frame and stays Active; nothing reaches the room.
		g.handleOp(ctx, session, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// handleOp decodes one inbound frame, applies the message operation, and
// hands the result to the dispatcher.
func (g *Gateway) handleOp(ctx context.Context, session *Session, data []byte) {
	op, err := DecodeOp(data)
	if err != nil {
		g.metrics.op("decode", "rejected")
		session.TryDeliver(encodeOpError(err))
		return
	}

	var (
		env    chat.Envelope
		method string
	)

	switch v := op.(type) {
	case OpNew:
		method = "new"
		if n := len([]rune(v.Body)); n > maxMessageChars {
			session.TryDeliver(EncodeError("invalid", "message too long"))
			g.metrics.op(method, "rejected")
			return
		}
		env, err = g.ops.Create(ctx, session.RoomID, session.User.UserID, v.Body, "")

	case OpUpdate:
		method = "update"
		if n := len([]rune(v.Body)); n > maxMessageChars {
			session.TryDeliver(EncodeError("invalid", "message too long"))
			g.metrics.op(method, "rejected")
			return
		}
		env, err = g.ops.Update(ctx, v.ID, session.User.UserID, v.Body)

	case OpDelete:
		method = "delete"
		env, err = g.ops.Delete(ctx, v.ID, session.User.UserID)

	default:
		// DecodeOp is exhaustive; this is unreachable by construction.
		session.TryDeliver(EncodeError("unknown_method", "unsupported operation"))
		return
	}

	if err != nil {
		g.metrics.op(method, opOutcome(err))
		g.log.Info("ws.op.fail", "room_id", session.RoomID, "slot", session.Slot, "method", method, "err", err)
		session.TryDeliver(encodeOpError(err))
		return
	}

	g.metrics.op(method, "ok")
	g.disp.Broadcast(env)
}

// encodeOpError maps an operation failure to its per-session error frame.
func encodeOpError(err error) []byte {
	switch {
	case errors.Is(err, chat.ErrForbidden):
		return EncodeError("forbidden", "you are not the sender of this message")
	case errors.Is(err, chat.ErrNotFound):
		return EncodeError("not_found", "no such message or room")
	case errors.Is(err, ErrUnknownMethod):
		return EncodeError("unknown_method", err.Error())
	case errors.Is(err, ErrBadFrame):
		return EncodeError("bad_frame", err.Error())
	case errors.Is(err, chat.ErrInvalidInput):
		return EncodeError("invalid", err.Error())
	default:
		return EncodeError("internal", "operation failed")
	}
}

func opOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, chat.ErrForbidden):
		return "forbidden"
	case errors.Is(err, chat.ErrNotFound):
		return "not_found"
	case errors.Is(err, chat.ErrInvalidInput):
		return "rejected"
	default:
		return "error"
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
