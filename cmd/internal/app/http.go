package app

import (
	"net/http"
	"strings"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	ws *realtime.Gateway,
	rooms *chat.API,
	authH *auth.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	authH.Register(mux)

	// The room path serves both worlds: upgrade requests enter the realtime
	// gateway, plain GETs read the snapshot over HTTP.
	mux.HandleFunc("GET /chat/{room_id}/", func(w http.ResponseWriter, r *http.Request) {
		if isWebsocketUpgrade(r) {
			ws.HandleWS(w, r)
			return
		}
		rooms.HandleRoom(w, r)
	})
	mux.HandleFunc("POST /chat/{room_id}/", rooms.HandleInject)
	mux.HandleFunc("GET /chat/images/{name}", rooms.HandleImage)
}

func isWebsocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(part), "upgrade") {
			return true
		}
	}
	return false
}
