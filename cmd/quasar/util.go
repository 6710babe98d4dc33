package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/discovery"
	"github.com/oriys/quasar/internal/group"
)

// loadConfig layers file, environment, and shared flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("group") {
		cfg.Group.Name = groupName
	}
	if cmd.Flags().Changed("member-id") {
		cfg.Group.MemberID = memberID
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if cmd.Flags().Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if cmd.Flags().Changed("pg-dsn") {
		cfg.Postgres.DSN = pgDSN
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Daemon.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// buildDiscovery assembles the configured membership backend behind the
// short-TTL cache. The redis client is only used by the redis backend and
// may be nil for the others.
func buildDiscovery(ctx context.Context, cfg *config.Config, client *redis.Client) (discovery.Discovery, error) {
	var backend discovery.Discovery
	switch cfg.Discovery.Backend {
	case "static":
		members := make([]group.Member, 0, len(cfg.Discovery.StaticMembers))
		for _, m := range cfg.Discovery.StaticMembers {
			members = append(members, group.Member{ID: group.MemberID(m.ID), Name: m.Name, Addr: m.Addr})
		}
		backend = discovery.NewStatic(members...)
	case "redis":
		backend = discovery.NewRedis(client, cfg.Group.Name, cfg.Discovery.MemberTTL())
	case "etcd":
		etcd, err := discovery.NewEtcd(cfg.Etcd.Endpoints, cfg.Group.Name, int64(cfg.Discovery.MemberTTLSeconds))
		if err != nil {
			return nil, fmt.Errorf("etcd discovery: %w", err)
		}
		backend = etcd
	case "s3":
		s3disco, err := discovery.NewS3(ctx, discovery.S3Config{
			Bucket:     cfg.S3.Bucket,
			Prefix:     cfg.S3.Prefix,
			Region:     cfg.S3.Region,
			Endpoint:   cfg.S3.Endpoint,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			StaleAfter: 2 * cfg.Discovery.MemberTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 discovery: %w", err)
		}
		backend = s3disco
	default:
		return nil, fmt.Errorf("unknown discovery backend %q", cfg.Discovery.Backend)
	}
	return discovery.NewCache(backend, cfg.Discovery.CacheTTL()), nil
}
