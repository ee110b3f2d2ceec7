package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"parley/cmd/internal/chat"
)

// Inbound frames are {"method": "new"|"update"|"delete", "msg": ..., "id": ...}.
// They decode into a tagged variant so dispatch is exhaustive; an
// unrecognized method is an explicit error, never a silent no-op.

// Op is an inbound operation request.
type Op interface{ isOp() }

// OpNew requests creation of a message.
type OpNew struct{ Body string }

// OpUpdate requests a body change on an existing message.
type OpUpdate struct{ ID, Body string }

// OpDelete requests removal of an existing message.
type OpDelete struct{ ID string }

func (OpNew) isOp()    {}
func (OpUpdate) isOp() {}
func (OpDelete) isOp() {}

var (
	// ErrUnknownMethod is returned for a method outside new/update/delete.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrBadFrame is returned for frames that are not valid operation JSON.
	ErrBadFrame = errors.New("malformed frame")
)

type inboundFrame struct {
	Method string          `json:"method"`
	Msg    string          `json:"msg"`
	ID     json.RawMessage `json:"id"`
}

// DecodeOp parses an inbound frame into its tagged operation.
func DecodeOp(data []byte) (Op, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}

	switch f.Method {
	case "new":
		if strings.TrimSpace(f.Msg) == "" {
			return nil, fmt.Errorf("%w: new requires msg", ErrBadFrame)
		}
		return OpNew{Body: f.Msg}, nil

	case "update":
		id, err := decodeMsgID(f.ID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(f.Msg) == "" {
			return nil, fmt.Errorf("%w: update requires msg", ErrBadFrame)
		}
		return OpUpdate{ID: id, Body: f.Msg}, nil

	case "delete":
		id, err := decodeMsgID(f.ID)
		if err != nil {
			return nil, err
		}
		return OpDelete{ID: id}, nil

	case "":
		return nil, fmt.Errorf("%w: missing method", ErrBadFrame)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, f.Method)
	}
}

// decodeMsgID accepts the id as a JSON string or number; ids are ULID
// strings server-side but clients of the original protocol sent numbers.
func decodeMsgID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: missing id", ErrBadFrame)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: empty id", ErrBadFrame)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	return "", fmt.Errorf("%w: invalid id", ErrBadFrame)
}

// ---- outbound frames ----

type messageFrame struct {
	Type string        `json:"type"`
	Msg  *chat.Message `json:"msg"`
}

type deleteFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// EncodeEnvelope marshals a broadcast envelope to its wire frame.
func EncodeEnvelope(env chat.Envelope) ([]byte, error) {
	switch env.Kind {
	case chat.KindNew, chat.KindUpdate:
		if env.Message == nil {
			return nil, fmt.Errorf("envelope %s: nil message", env.Kind)
		}
		return json.Marshal(messageFrame{Type: string(env.Kind), Msg: env.Message})
	case chat.KindDelete:
		if env.ID == "" {
			return nil, errors.New("envelope delete: empty id")
		}
		return json.Marshal(deleteFrame{Type: string(env.Kind), ID: env.ID})
	default:
		return nil, fmt.Errorf("envelope: unknown kind %q", env.Kind)
	}
}

// EncodeSnapshot marshals the connect-time room snapshot frame.
func EncodeSnapshot(snap chat.RoomSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// EncodeError marshals a per-session error frame. Errors are always scoped
// to the requesting session; they are never broadcast.
func EncodeError(code, detail string) []byte {
	b, err := json.Marshal(errorFrame{Type: "error", Code: code, Detail: detail})
	if err != nil {
		return []byte(`{"type":"error","code":"internal","detail":"encoding failure"}`)
	}
	return b
}
