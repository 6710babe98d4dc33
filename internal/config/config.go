package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/tracing"
)

// GroupConfig identifies the group and the local member.
type GroupConfig struct {
	Name       string `yaml:"name"`
	MemberID   string `yaml:"member_id"`   // defaults to the hostname
	MemberName string `yaml:"member_name"` // defaults to member_id
	Addr       string `yaml:"addr"`        // advertised address, required for the grpc transport
}

// Member builds the local member record from the group settings.
func (g GroupConfig) Member() group.Member {
	name := g.MemberName
	if name == "" {
		name = g.MemberID
	}
	return group.Member{ID: group.MemberID(g.MemberID), Name: name, Addr: g.Addr}
}

// TransportConfig selects and tunes the group channel.
type TransportConfig struct {
	Kind          string `yaml:"kind"`            // redis, grpc, inmem
	Listen        string `yaml:"listen"`          // grpc responder bind address
	DefaultWaitMS int64  `yaml:"default_wait_ms"` // window for calls without a timeout (default: 5000)
}

// DefaultWait returns the collection window as a duration.
func (t TransportConfig) DefaultWait() time.Duration {
	return time.Duration(t.DefaultWaitMS) * time.Millisecond
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EtcdConfig holds etcd discovery settings.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

// S3Config holds S3 discovery settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // set for non-AWS endpoints such as MinIO
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// StaticMember is one fixed membership entry.
type StaticMember struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// DiscoveryConfig selects the membership backend.
type DiscoveryConfig struct {
	Backend                 string         `yaml:"backend"` // static, redis, etcd, s3
	StaticMembers           []StaticMember `yaml:"static_members"`
	MemberTTLSeconds        int            `yaml:"member_ttl_seconds"`        // heartbeat expiry (default: 15)
	AnnounceIntervalSeconds int            `yaml:"announce_interval_seconds"` // re-announce cadence (default: 5)
	CacheTTLMS              int64          `yaml:"cache_ttl_ms"`              // member view cache (default: 1000)
}

func (d DiscoveryConfig) MemberTTL() time.Duration {
	return time.Duration(d.MemberTTLSeconds) * time.Second
}

func (d DiscoveryConfig) AnnounceInterval() time.Duration {
	return time.Duration(d.AnnounceIntervalSeconds) * time.Second
}

func (d DiscoveryConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLMS) * time.Millisecond
}

// PoolConfig bounds local async work.
type PoolConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"` // default: 16
}

// LimiterConfig throttles outbound broadcasts.
type LimiterConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"` // 0 disables the limiter
	Burst         int     `yaml:"burst"`
}

// PostgresConfig enables the dispatch history store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"` // empty disables history
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr    string `yaml:"http_addr"`    // stats and prometheus listener; empty disables
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string `yaml:"log_format"`   // text, json
	DispatchLog string `yaml:"dispatch_log"` // JSON-lines dispatch log file; empty disables
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Group     GroupConfig     `yaml:"group"`
	Transport TransportConfig `yaml:"transport"`
	Redis     RedisConfig     `yaml:"redis"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	S3        S3Config        `yaml:"s3"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Pool      PoolConfig      `yaml:"pool"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "member"
	}
	return &Config{
		Group: GroupConfig{
			Name:     "quasar",
			MemberID: host,
		},
		Transport: TransportConfig{
			Kind:          "redis",
			Listen:        ":7411",
			DefaultWaitMS: 5000,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Discovery: DiscoveryConfig{
			Backend:                 "redis",
			MemberTTLSeconds:        15,
			AnnounceIntervalSeconds: 5,
			CacheTTLMS:              1000,
		},
		Pool: PoolConfig{
			MaxConcurrent: 16,
		},
		Daemon: DaemonConfig{
			HTTPAddr:  "",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Tracing: tracing.Config{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "quasar",
			SampleRate:  0.1,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QUASAR_GROUP"); v != "" {
		cfg.Group.Name = v
	}
	if v := os.Getenv("QUASAR_MEMBER_ID"); v != "" {
		cfg.Group.MemberID = v
	}
	if v := os.Getenv("QUASAR_MEMBER_ADDR"); v != "" {
		cfg.Group.Addr = v
	}
	if v := os.Getenv("QUASAR_TRANSPORT"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("QUASAR_LISTEN"); v != "" {
		cfg.Transport.Listen = v
	}
	if v := os.Getenv("QUASAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QUASAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QUASAR_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("QUASAR_DISCOVERY"); v != "" {
		cfg.Discovery.Backend = v
	}
	if v := os.Getenv("QUASAR_ETCD_ENDPOINTS"); v != "" {
		cfg.Etcd.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("QUASAR_S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("QUASAR_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("QUASAR_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("QUASAR_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("QUASAR_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
}

// Validate checks the parts every command needs before wiring starts.
func (c *Config) Validate() error {
	if c.Group.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if c.Group.MemberID == "" {
		return fmt.Errorf("member id is required")
	}
	switch c.Transport.Kind {
	case "redis", "grpc", "inmem":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	switch c.Discovery.Backend {
	case "static", "redis", "etcd", "s3":
	default:
		return fmt.Errorf("unknown discovery backend %q", c.Discovery.Backend)
	}
	if c.Transport.Kind == "grpc" && c.Group.Addr == "" {
		return fmt.Errorf("group addr is required for the grpc transport")
	}
	if c.Discovery.Backend == "etcd" && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are required for the etcd backend")
	}
	if c.Discovery.Backend == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required for the s3 backend")
	}
	return nil
}
