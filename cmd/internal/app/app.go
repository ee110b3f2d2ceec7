// Package app wires the Parley server runtime: config, logging, stores, the
// realtime fan-out engine, and the HTTP surface.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns the server's long-lived components and their lifecycle: the room
// registry is constructed here at startup, passed by reference everywhere,
// and torn down with the process.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool
	chatStore chat.Store

	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	gateway    *realtime.Gateway

	roomAPI     *chat.API
	authHandler *auth.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	var (
		pool      *pgxpool.Pool
		dbEnabled bool
		chatStore chat.Store
		userStore auth.UserStore
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := chat.NewMemoryStore()
		chatStore = mem
		userStore = mem
	} else {
		p, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pool = p
		dbEnabled = true
		log.Info("db.enabled.postgres_store")

		cs, err := chat.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		us, err := auth.NewPostgresUserStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		chatStore = cs
		userStore = us
	}

	secret := cfg.TokenSecret
	if secret == "" {
		// Dev-only: an ephemeral secret invalidates all tokens on restart.
		secret = newEphemeralSecret()
		log.Warn("auth.token_secret.ephemeral", "hint", "set PARLEY_TOKEN_SECRET for stable tokens")
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret: []byte(secret),
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	metrics := realtime.NewMetrics(prometheus.DefaultRegisterer)
	registry := realtime.NewRegistry(log)
	dispatcher := realtime.NewDispatcher(log, registry, metrics)
	ops := chat.NewOps(log, chatStore)

	gateway := realtime.NewGateway(log, registry, dispatcher, ops, tokens, metrics, realtime.Options{
		SendQueueSize:      cfg.WSSendQueue,
		WriteTimeout:       cfg.WSWriteTimeout,
		ReadIdleTimeout:    cfg.WSReadIdleTimeout,
		HeartbeatInterval:  cfg.WSHeartbeatInterval,
		HeartbeatTimeout:   cfg.WSHeartbeatTimeout,
		RateEvents:         cfg.WSRateEvents,
		RateWindow:         cfg.WSRateWindow,
		OriginPatterns:     cfg.WSOriginPatterns,
		InsecureSkipVerify: cfg.WSDevInsecure,
	})

	return &App{
		cfg:         cfg,
		log:         log,
		pool:        pool,
		dbEnabled:   dbEnabled,
		chatStore:   chatStore,
		registry:    registry,
		dispatcher:  dispatcher,
		gateway:     gateway,
		roomAPI:     chat.NewAPI(log, ops, tokens, dispatcher, cfg.MediaDir),
		authHandler: auth.NewHandler(log, userStore, tokens),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.gateway, a.roomAPI, a.authHandler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(mux), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.chatStore != nil {
		_ = a.chatStore.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func newEphemeralSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
