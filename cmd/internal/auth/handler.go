package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"parley/cmd/internal/ids"
)

const maxAuthBodyBytes = 16 << 10 // 16 KiB

// Handler serves the register/login endpoints.
type Handler struct {
	log    *slog.Logger
	users  UserStore
	tokens *TokenManager

	// dummyHash keeps login timing uniform for unknown usernames.
	dummyHash string
}

// NewHandler constructs the auth HTTP handler.
func NewHandler(log *slog.Logger, users UserStore, tokens *TokenManager) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, users: users, tokens: tokens}
	if hash, err := HashPassword("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}
	return h
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > 50 {
		writeError(w, http.StatusBadRequest, "bad_username", "username must be 1-50 characters")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "bad_password", "password must be at least 8 characters")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	now := time.Now().UTC()
	userID, err := ids.NewULID(now)
	if err != nil {
		h.log.Error("auth.register.id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	err = h.users.CreateUser(r.Context(), User{
		ID:           userID,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
	})
	if errors.Is(err, ErrUserExists) {
		writeError(w, http.StatusConflict, "username_taken", "username already taken")
		return
	}
	if err != nil {
		h.log.Error("auth.register.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	h.log.Info("auth.register", "user_id", userID, "username", username)
	writeJSON(w, http.StatusCreated, map[string]string{"id": userID, "username": username})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, ErrUserNotFound) {
		// Burn a compare anyway so misses and mismatches take similar time.
		_ = ComparePassword(h.dummyHash, req.Password)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if err != nil {
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	if err := ComparePassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	token, exp, err := h.tokens.Issue(Identity{UserID: user.ID, Username: user.Username}, time.Now().UTC())
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	h.log.Info("auth.login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp})
}

// ---- JSON helpers ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
