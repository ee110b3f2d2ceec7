package app

import "time"

// Config contains all runtime configuration, loaded from PARLEY_* env vars.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// TokenSecret signs access tokens (HS256); must be >= 32 bytes.
	// Dev mode generates an ephemeral secret when unset.
	TokenSecret string
	TokenIssuer string
	TokenTTL    time.Duration

	MediaDir string

	// Websocket knobs.
	WSSendQueue         int
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration
	WSOriginPatterns    []string
	WSDevInsecure       bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		TokenSecret: EnvString("PARLEY_TOKEN_SECRET", ""),
		TokenIssuer: EnvString("PARLEY_TOKEN_ISSUER", "parley"),
		TokenTTL:    EnvDuration("PARLEY_TOKEN_TTL", 24*time.Hour),

		MediaDir: EnvString("PARLEY_MEDIA_DIR", "media"),

		WSSendQueue:         EnvInt("PARLEY_WS_SEND_QUEUE", 256),
		WSWriteTimeout:      EnvDuration("PARLEY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout:   EnvDuration("PARLEY_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeatInterval: EnvDuration("PARLEY_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatTimeout:  EnvDuration("PARLEY_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:        EnvInt("PARLEY_WS_RATE_EVENTS", 120),
		WSRateWindow:        EnvDuration("PARLEY_WS_RATE_WINDOW", 10*time.Second),
		WSOriginPatterns:    EnvCSV("PARLEY_WS_ORIGIN_PATTERNS", "localhost,127.0.0.1"),
		WSDevInsecure:       EnvBool("PARLEY_WS_DEV_INSECURE", false),
	}
}
