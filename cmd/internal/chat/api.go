package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"parley/cmd/internal/auth"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	maxUploadBytes = 10 << 20 // whole multipart request
	maxImageBytes  = 8 << 20
)

// Broadcaster is the fan-out entry point the room API shares with the
// realtime gateway. Injected messages reach live listeners through the same
// dispatcher as websocket-originated ones.
type Broadcaster interface {
	Broadcast(env Envelope)
}

// attachment names are "<room>-<uuid>.<ext>"; room ids carry no dash, so the
// room prefix is everything before the first one.
var attachmentNameRE = regexp.MustCompile(`^[0-9A-Za-z]+-[0-9a-f-]{36}\.[a-z0-9]+$`)

// API serves the non-realtime room endpoints: snapshot retrieval, message
// injection with an optional attachment, and attachment retrieval.
type API struct {
	log      *slog.Logger
	ops      *Ops
	authn    auth.Authenticator
	cast     Broadcaster
	mediaDir string
}

// NewAPI constructs the room HTTP API.
func NewAPI(log *slog.Logger, ops *Ops, authn auth.Authenticator, cast Broadcaster, mediaDir string) *API {
	if log == nil {
		log = slog.Default()
	}
	if mediaDir == "" {
		mediaDir = "media"
	}
	return &API{log: log, ops: ops, authn: authn, cast: cast, mediaDir: mediaDir}
}

// identify authenticates the request and enforces room membership.
func (a *API) identify(w http.ResponseWriter, r *http.Request, roomID string) (auth.Identity, bool) {
	id, err := a.authn.Authenticate(r.Context(), auth.BearerFromRequest(r), time.Now().UTC())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return auth.Identity{}, false
	}

	member, err := a.ops.IsMember(r.Context(), roomID, id.UserID)
	if err != nil {
		a.log.Error("api.membership.fail", "room_id", roomID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return auth.Identity{}, false
	}
	if !member {
		http.Error(w, "forbidden", http.StatusForbidden)
		return auth.Identity{}, false
	}
	return id, true
}

// HandleRoom serves the membership-checked room snapshot, the same view the
// realtime gateway sends at connect time.
func (a *API) HandleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room_id"))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusNotFound)
		return
	}
	if _, ok := a.identify(w, r, roomID); !ok {
		return
	}

	snap, err := a.ops.Snapshot(r.Context(), roomID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error("api.snapshot.fail", "room_id", roomID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(snap)
}

// HandleInject accepts a multipart message (body + optional image), persists
// it through the same Ops contract as the realtime path, and hands the
// resulting envelope to the dispatcher. The response reports creation only;
// delivery outcome is deliberately not part of the contract.
func (a *API) HandleInject(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room_id"))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusNotFound)
		return
	}
	id, ok := a.identify(w, r, roomID)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	body := strings.TrimSpace(r.FormValue("msg"))

	imageName, cleanup, err := a.saveAttachment(r, roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if body == "" && imageName == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	env, err := a.ops.Create(r.Context(), roomID, id.UserID, body, imageName)
	if err != nil {
		cleanup()
		a.log.Error("api.inject.fail", "room_id", roomID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.cast.Broadcast(env)
	w.WriteHeader(http.StatusCreated)
}

// saveAttachment stores the uploaded image, if any, and returns its stored
// name plus a cleanup func for the persistence-failure path.
func (a *API) saveAttachment(r *http.Request, roomID string) (string, func(), error) {
	nop := func() {}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nop, nil
	}
	if err != nil {
		return "", nop, errors.New("invalid image upload")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return "", nop, errors.New("reading image failed")
	}
	if len(data) > maxImageBytes {
		return "", nop, errors.New("image too large")
	}

	// Content sniffing, not the client-declared type, decides acceptance.
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", nop, fmt.Errorf("unsupported attachment type %s", mtype.String())
	}

	name := roomID + "-" + uuid.NewString() + mtype.Extension()
	dir := filepath.Join(a.mediaDir, "chat", "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nop, errors.New("storing image failed")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nop, errors.New("storing image failed")
	}

	return name, func() { _ = os.Remove(path) }, nil
}

// HandleImage serves a stored attachment to room members.
func (a *API) HandleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !attachmentNameRE.MatchString(name) {
		http.Error(w, "bad attachment name", http.StatusBadRequest)
		return
	}

	roomID := name[:strings.Index(name, "-")]
	if _, ok := a.identify(w, r, roomID); !ok {
		return
	}

	path := filepath.Join(a.mediaDir, "chat", "images", filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	_, _ = w.Write(data)
}
