package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/chat"
)

func TestDecodeOp_New(t *testing.T) {
	t.Parallel()

	op, err := DecodeOp([]byte(`{"method":"new","msg":"hi there"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, ok := op.(OpNew)
	if !ok {
		t.Fatalf("expected OpNew, got %T", op)
	}
	if n.Body != "hi there" {
		t.Fatalf("unexpected body %q", n.Body)
	}
}

func TestDecodeOp_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	op, err := DecodeOp([]byte(`{"method":"update","id":"01ABC","msg":"edited"}`))
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	u, ok := op.(OpUpdate)
	if !ok || u.ID != "01ABC" || u.Body != "edited" {
		t.Fatalf("unexpected update op: %#v", op)
	}

	op, err = DecodeOp([]byte(`{"method":"delete","id":"01ABC"}`))
	if err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	d, ok := op.(OpDelete)
	if !ok || d.ID != "01ABC" {
		t.Fatalf("unexpected delete op: %#v", op)
	}
}

func TestDecodeOp_NumericIDAccepted(t *testing.T) {
	t.Parallel()

	op, err := DecodeOp([]byte(`{"method":"delete","id":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d := op.(OpDelete); d.ID != "7" {
		t.Fatalf("expected id \"7\", got %q", d.ID)
	}
}

func TestDecodeOp_UnknownMethodIsExplicitError(t *testing.T) {
	t.Parallel()

	_, err := DecodeOp([]byte(`{"method":"shout","msg":"HI"}`))
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestDecodeOp_MalformedFrames(t *testing.T) {
	t.Parallel()

	cases := []string{
		`not json`,
		`{}`,
		`{"method":"new"}`,
		`{"method":"update","id":"x"}`,
		`{"method":"update","msg":"x"}`,
		`{"method":"delete"}`,
		`{"method":"delete","id":""}`,
	}
	for _, in := range cases {
		if _, err := DecodeOp([]byte(in)); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("input %q: expected ErrBadFrame, got %v", in, err)
		}
	}
}

func TestEncodeEnvelope_Frames(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &chat.Message{
		ID:         "01MSG",
		Sender:     "alice",
		Body:       "hello",
		TimeSent:   now,
		LastChange: now,
	}

	b, err := EncodeEnvelope(chat.Envelope{Kind: chat.KindNew, RoomID: "5", Message: msg})
	if err != nil {
		t.Fatalf("encode new: %v", err)
	}
	var out struct {
		Type string `json:"type"`
		Msg  struct {
			ID     string `json:"id"`
			Sender string `json:"sender"`
			Msg    string `json:"msg"`
		} `json:"msg"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if out.Type != "new" || out.Msg.Sender != "alice" || out.Msg.Msg != "hello" {
		t.Fatalf("unexpected frame %s", b)
	}
	if strings.Contains(string(b), `"image"`) {
		t.Fatalf("empty image should be omitted: %s", b)
	}

	b, err = EncodeEnvelope(chat.Envelope{Kind: chat.KindDelete, RoomID: "5", ID: "01MSG"})
	if err != nil {
		t.Fatalf("encode delete: %v", err)
	}
	if string(b) != `{"type":"delete","id":"01MSG"}` {
		t.Fatalf("unexpected delete frame %s", b)
	}

	if _, err := EncodeEnvelope(chat.Envelope{Kind: chat.KindNew}); err == nil {
		t.Fatal("nil message must not encode")
	}
	if _, err := EncodeEnvelope(chat.Envelope{Kind: "weird"}); err == nil {
		t.Fatal("unknown kind must not encode")
	}
}

func TestEncodeError_Frame(t *testing.T) {
	t.Parallel()

	b := EncodeError("forbidden", "nope")
	var out errorFrame
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if out.Type != "error" || out.Code != "forbidden" || out.Detail != "nope" {
		t.Fatalf("unexpected error frame %s", b)
	}
}
