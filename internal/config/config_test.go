package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Group.Name != "quasar" {
		t.Errorf("group name = %q, want quasar", cfg.Group.Name)
	}
	if cfg.Group.MemberID == "" {
		t.Error("member id should default to something")
	}
	if cfg.Transport.Kind != "redis" {
		t.Errorf("transport = %q, want redis", cfg.Transport.Kind)
	}
	if got := cfg.Transport.DefaultWait(); got != 5*time.Second {
		t.Errorf("default wait = %v, want 5s", got)
	}
	if got := cfg.Discovery.MemberTTL(); got != 15*time.Second {
		t.Errorf("member ttl = %v, want 15s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quasar.yaml")
	body := `
group:
  name: payments
  member_id: node-1
  addr: 10.0.0.1:7411
transport:
  kind: grpc
  default_wait_ms: 2500
discovery:
  backend: static
  static_members:
    - id: node-1
      addr: 10.0.0.1:7411
    - id: node-2
      addr: 10.0.0.2:7411
daemon:
  log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Group.Name != "payments" || cfg.Group.MemberID != "node-1" {
		t.Errorf("group = %+v, want payments/node-1", cfg.Group)
	}
	if cfg.Transport.Kind != "grpc" {
		t.Errorf("transport = %q, want grpc", cfg.Transport.Kind)
	}
	if got := cfg.Transport.DefaultWait(); got != 2500*time.Millisecond {
		t.Errorf("default wait = %v, want 2.5s", got)
	}
	if len(cfg.Discovery.StaticMembers) != 2 {
		t.Fatalf("static members = %d, want 2", len(cfg.Discovery.StaticMembers))
	}
	if cfg.Discovery.StaticMembers[1].Addr != "10.0.0.2:7411" {
		t.Errorf("member 2 addr = %q", cfg.Discovery.StaticMembers[1].Addr)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Daemon.LogLevel)
	}

	// Settings the file does not mention keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
	if cfg.Pool.MaxConcurrent != 16 {
		t.Errorf("pool size = %d, want default 16", cfg.Pool.MaxConcurrent)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUASAR_GROUP", "billing")
	t.Setenv("QUASAR_MEMBER_ID", "node-9")
	t.Setenv("QUASAR_TRANSPORT", "inmem")
	t.Setenv("QUASAR_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("QUASAR_REDIS_DB", "3")
	t.Setenv("QUASAR_ETCD_ENDPOINTS", "etcd-1:2379,etcd-2:2379")
	t.Setenv("QUASAR_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Group.Name != "billing" || cfg.Group.MemberID != "node-9" {
		t.Errorf("group = %+v", cfg.Group)
	}
	if cfg.Transport.Kind != "inmem" {
		t.Errorf("transport = %q, want inmem", cfg.Transport.Kind)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Redis.DB != 3 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if len(cfg.Etcd.Endpoints) != 2 || cfg.Etcd.Endpoints[1] != "etcd-2:2379" {
		t.Errorf("etcd endpoints = %v", cfg.Etcd.Endpoints)
	}
	if cfg.Daemon.LogFormat != "json" {
		t.Errorf("log format = %q, want json", cfg.Daemon.LogFormat)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		tweak func(*Config)
	}{
		{"empty group", func(c *Config) { c.Group.Name = "" }},
		{"empty member", func(c *Config) { c.Group.MemberID = "" }},
		{"bad transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"bad discovery", func(c *Config) { c.Discovery.Backend = "gossip" }},
		{"grpc without addr", func(c *Config) { c.Transport.Kind = "grpc"; c.Group.Addr = "" }},
		{"etcd without endpoints", func(c *Config) { c.Discovery.Backend = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.Discovery.Backend = "s3" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.tweak(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestMemberFromGroupConfig(t *testing.T) {
	g := GroupConfig{MemberID: "node-1", Addr: "10.0.0.1:7411"}
	m := g.Member()
	if string(m.ID) != "node-1" || m.Name != "node-1" || m.Addr != "10.0.0.1:7411" {
		t.Errorf("member = %+v", m)
	}

	g.MemberName = "payments-a"
	if got := g.Member().Name; got != "payments-a" {
		t.Errorf("name = %q, want payments-a", got)
	}
}
