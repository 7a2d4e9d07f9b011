package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoad_UsesDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT", "READ_HEADER_TIMEOUT", "READ_TIMEOUT", "WRITE_TIMEOUT", "SAFEBROWSE_QUOTA", "FEED_QUOTA", "MAX_CONTENT_LENGTH"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":8080")
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("IdleTimeout: got %v, want %v", cfg.IdleTimeout, 60*time.Second)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout: got %v, want %v", cfg.ShutdownTimeout, 10*time.Second)
	}
	if cfg.SafebrowseQuota != 10 || cfg.FeedQuota != 12 {
		t.Fatalf("quotas: got %d/%d, want 10/12", cfg.SafebrowseQuota, cfg.FeedQuota)
	}
	if cfg.MaxContentLength != 1<<20 {
		t.Fatalf("MaxContentLength: got %d", cfg.MaxContentLength)
	}
}

func TestLoad_ReadsEnv(t *testing.T) {
	t.Setenv("ADDR", ":18080")
	t.Setenv("IDLE_TIMEOUT", "2m")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("QUOTA_BACKEND", "redis")
	t.Setenv("SAFEBROWSE_QUOTA", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SAFEBROWSING_TIMEOUT", "750ms")
	t.Setenv("TLS_CERT_FILE", "/tmp/cert.pem")
	t.Setenv("TLS_KEY_FILE", "/tmp/key.pem")

	cfg := Load()

	if cfg.Addr != ":18080" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":18080")
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Fatalf("IdleTimeout: got %v, want %v", cfg.IdleTimeout, 2*time.Minute)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout: got %v, want %v", cfg.ShutdownTimeout, 3*time.Second)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("ReadTimeout: got %v, want %v", cfg.ReadTimeout, 5*time.Second)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel: got %v", cfg.LogLevel)
	}
	if cfg.QuotaBackend != "redis" || cfg.SafebrowseQuota != 3 {
		t.Fatalf("quota: got %q/%d", cfg.QuotaBackend, cfg.SafebrowseQuota)
	}
	if strings.Join(cfg.KafkaBrokers, ",") != "k1:9092,k2:9092" {
		t.Fatalf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.SafeBrowsingTimeout != 750*time.Millisecond {
		t.Fatalf("SafeBrowsingTimeout: got %v", cfg.SafeBrowsingTimeout)
	}
	if !cfg.TLSEnabled() {
		t.Fatal("expected TLS enabled")
	}
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("SAFEBROWSE_QUOTA", "many")

	cfg := Load()

	if cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("ReadTimeout: got %v, want default", cfg.ReadTimeout)
	}
	if cfg.SafebrowseQuota != 10 {
		t.Fatalf("SafebrowseQuota: got %d, want default", cfg.SafebrowseQuota)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		t.Setenv("STORE_BACKEND", "")
		t.Setenv("QUOTA_BACKEND", "")
		t.Setenv("KAFKA_ENABLED", "")
		t.Setenv("TLS_CERT_FILE", "")
		t.Setenv("TLS_KEY_FILE", "")
		return Load()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "memory store without dsn", mutate: func(c *Config) { c.StoreBackend = "memory"; c.DBDSN = "" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DBDSN = "" }, wantErr: "DBDSN"},
		{name: "unknown quota backend", mutate: func(c *Config) { c.QuotaBackend = "etcd" }, wantErr: "QuotaBackend"},
		{name: "cert without key", mutate: func(c *Config) { c.TLSCertFile = "cert.pem" }, wantErr: "TLSKeyFile"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.KafkaEnabled = true; c.KafkaBrokers = nil }, wantErr: "KafkaBrokers"},
		{name: "bad endpoint", mutate: func(c *Config) { c.SafeBrowsingEndpoint = "not a url" }, wantErr: "SafeBrowsingEndpoint"},
		{name: "fp rate out of range", mutate: func(c *Config) { c.ThreatFilterFPRate = 1.5 }, wantErr: "ThreatFilterFPRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error: got %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
