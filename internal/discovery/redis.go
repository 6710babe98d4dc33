package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
)

// DefaultMemberTTL is how long an announced member stays alive without a
// refresh. Announce intervals must be comfortably shorter.
const DefaultMemberTTL = 15 * time.Second

// Redis keeps membership in heartbeat keys: one key per member, refreshed
// by Announce with a TTL so crashed members disappear on their own.
//
// Keys: quasar:group:<group>:member:<id> -> JSON-encoded Member
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a backend for the named group on an existing client.
// The caller keeps ownership of the client. A non-positive ttl falls back
// to DefaultMemberTTL.
func NewRedis(client *redis.Client, groupName string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultMemberTTL
	}
	return &Redis{
		client: client,
		prefix: fmt.Sprintf("quasar:group:%s:member:", groupName),
		ttl:    ttl,
	}
}

func (d *Redis) key(id group.MemberID) string {
	return d.prefix + string(id)
}

func (d *Redis) Announce(ctx context.Context, m group.Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := d.client.Set(ctx, d.key(m.ID), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("announce member %s: %w", m.ID, err)
	}
	return nil
}

func (d *Redis) Members(ctx context.Context) ([]group.Member, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := d.client.Scan(ctx, cursor, d.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan members: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch members: %w", err)
	}

	members := make([]group.Member, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue // expired between scan and fetch
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m group.Member
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logging.Op().Warn("skip malformed member entry", "key", keys[i], "error", err)
			continue
		}
		members = append(members, m)
	}
	sortMembers(members)
	return members, nil
}

func (d *Redis) Forget(ctx context.Context, id group.MemberID) error {
	return d.client.Del(ctx, d.key(id)).Err()
}

// Close is a no-op: the client belongs to the caller.
func (d *Redis) Close() error { return nil }
