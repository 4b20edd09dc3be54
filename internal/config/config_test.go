package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8001" || cfg.StorageBackend != "postgres" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ConnectivityCheckEvery != 2*time.Minute || cfg.ConnectivityThreshold != 5*time.Minute {
		t.Fatalf("connectivity defaults wrong: every=%v threshold=%v", cfg.ConnectivityCheckEvery, cfg.ConnectivityThreshold)
	}
	if cfg.JWTTTL != 12*time.Hour {
		t.Fatalf("jwt ttl = %v", cfg.JWTTTL)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("proxy headers must not be trusted by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("VALID_API_KEYS", " key-a, ,key-b ")
	t.Setenv("ALARM_NOTIFY_INTERVAL", "90s")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("CONNECTIVITY_THRESHOLD", "bogus")

	cfg := Load()
	if cfg.StorageBackend != "memory" {
		t.Fatalf("backend = %q", cfg.StorageBackend)
	}
	if len(cfg.ValidAPIKeys) != 2 || cfg.ValidAPIKeys[0] != "key-a" || cfg.ValidAPIKeys[1] != "key-b" {
		t.Fatalf("api keys = %q", cfg.ValidAPIKeys)
	}
	if cfg.AlarmNotifyInterval != 90*time.Second {
		t.Fatalf("alarm interval = %v", cfg.AlarmNotifyInterval)
	}
	if cfg.RedisDB != 0 || cfg.ConnectivityThreshold != 5*time.Minute {
		t.Fatalf("malformed values must fall back to defaults")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Load()
	cfg.StorageBackend = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p@ss", DBHost: "db", DBPort: "5433", DBName: "moto", DBMaxConns: 7}
	got := cfg.DatabaseURL()
	if !strings.HasPrefix(got, "postgres://u:p%40ss@db:5433/moto?") {
		t.Fatalf("url = %s", got)
	}
	if !strings.Contains(got, "pool_max_conns=7") || !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("url missing params: %s", got)
	}
}

func TestTrustProxyHeadersFromEnv(t *testing.T) {
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	if !Load().TrustProxyHeaders {
		t.Fatalf("TRUST_PROXY_HEADERS=true not honoured")
	}
	t.Setenv("TRUST_PROXY_HEADERS", "maybe")
	if Load().TrustProxyHeaders {
		t.Fatalf("unparseable value must fall back to false")
	}
}
