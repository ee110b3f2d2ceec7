package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PARLEY_TEST_STRING", "  value  ")
	t.Setenv("PARLEY_TEST_BOOL", "true")
	t.Setenv("PARLEY_TEST_BOOL_BAD", "not-a-bool")
	t.Setenv("PARLEY_TEST_INT", "42")
	t.Setenv("PARLEY_TEST_INT_NEG", "-3")
	t.Setenv("PARLEY_TEST_DUR", "90s")
	t.Setenv("PARLEY_TEST_DUR_BAD", "ninety seconds")
	t.Setenv("PARLEY_TEST_CSV", "a, b,, c ")

	if got := EnvString("PARLEY_TEST_STRING", "def"); got != "value" {
		t.Fatalf("EnvString = %q", got)
	}
	if got := EnvString("PARLEY_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default = %q", got)
	}

	if !EnvBool("PARLEY_TEST_BOOL", false) {
		t.Fatalf("EnvBool should parse true")
	}
	if EnvBool("PARLEY_TEST_BOOL_BAD", false) {
		t.Fatalf("EnvBool should fall back on garbage")
	}

	if got := EnvInt("PARLEY_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvInt("PARLEY_TEST_INT_NEG", 7); got != 7 {
		t.Fatalf("EnvInt should reject non-positive values, got %d", got)
	}

	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration = %v", got)
	}
	if got := EnvDuration("PARLEY_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("EnvDuration should fall back on garbage, got %v", got)
	}

	got := EnvCSV("PARLEY_TEST_CSV", "")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("EnvCSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EnvCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.TokenIssuer != "parley" {
		t.Fatalf("TokenIssuer = %q", cfg.TokenIssuer)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.WSSendQueue != 256 {
		t.Fatalf("WSSendQueue = %d", cfg.WSSendQueue)
	}
	if len(cfg.WSOriginPatterns) != 2 {
		t.Fatalf("WSOriginPatterns = %v", cfg.WSOriginPatterns)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PARLEY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("PARLEY_LOG_FORMAT", "text")
	t.Setenv("PARLEY_TOKEN_TTL", "1h")
	t.Setenv("PARLEY_WS_ORIGIN_PATTERNS", "chat.example.com")
	t.Setenv("PARLEY_READINESS_REQUIRE_DB", "true")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if len(cfg.WSOriginPatterns) != 1 || cfg.WSOriginPatterns[0] != "chat.example.com" {
		t.Fatalf("WSOriginPatterns = %v", cfg.WSOriginPatterns)
	}
	if !cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB should be true")
	}
}
