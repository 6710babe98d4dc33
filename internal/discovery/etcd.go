package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
)

// Etcd keeps membership under a key prefix with lease-attached entries.
// Each announced member holds one lease kept alive in the background; a
// crashed member's lease expires and its entry vanishes.
//
// Keys: /quasar/<group>/members/<id> -> JSON-encoded Member
type Etcd struct {
	client *clientv3.Client
	prefix string
	ttl    int64

	mu     sync.Mutex
	leases map[group.MemberID]*etcdLease
}

type etcdLease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcd creates a backend for the named group. ttlSeconds is the lease
// TTL; non-positive falls back to 15.
func NewEtcd(endpoints []string, groupName string, ttlSeconds int64) (*Etcd, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = 15
	}
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}
	return &Etcd{
		client: client,
		prefix: fmt.Sprintf("/quasar/%s/members/", groupName),
		ttl:    ttlSeconds,
		leases: make(map[group.MemberID]*etcdLease),
	}, nil
}

func (d *Etcd) key(id group.MemberID) string {
	return d.prefix + string(id)
}

// Announce writes the member under its lease, creating the lease and its
// keepalive on first use. A failed write drops the lease so the next
// Announce starts clean.
func (d *Etcd) Announce(ctx context.Context, m group.Member) error {
	lease, err := d.leaseFor(ctx, m.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := d.client.Put(ctx, d.key(m.ID), string(data), clientv3.WithLease(lease.id)); err != nil {
		d.dropLease(m.ID)
		return fmt.Errorf("announce member %s: %w", m.ID, err)
	}
	return nil
}

func (d *Etcd) leaseFor(ctx context.Context, id group.MemberID) (*etcdLease, error) {
	d.mu.Lock()
	if lease, ok := d.leases[id]; ok {
		d.mu.Unlock()
		return lease, nil
	}
	d.mu.Unlock()

	grant, err := d.client.Grant(ctx, d.ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := d.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keep lease alive: %w", err)
	}
	// Drain keepalive acks; the channel closes when the lease dies.
	go func() {
		for range ch {
		}
	}()

	lease := &etcdLease{id: grant.ID, cancel: cancel}
	d.mu.Lock()
	d.leases[id] = lease
	d.mu.Unlock()
	return lease, nil
}

func (d *Etcd) dropLease(id group.MemberID) {
	d.mu.Lock()
	lease, ok := d.leases[id]
	delete(d.leases, id)
	d.mu.Unlock()
	if ok {
		lease.cancel()
	}
}

func (d *Etcd) Members(ctx context.Context) ([]group.Member, error) {
	resp, err := d.client.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]group.Member, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var m group.Member
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			logging.Op().Warn("skip malformed member entry", "key", string(kv.Key), "error", err)
			continue
		}
		members = append(members, m)
	}
	sortMembers(members)
	return members, nil
}

func (d *Etcd) Forget(ctx context.Context, id group.MemberID) error {
	d.dropLease(id)
	if _, err := d.client.Delete(ctx, d.key(id)); err != nil {
		return fmt.Errorf("forget member %s: %w", id, err)
	}
	return nil
}

// Close cancels all keepalives and closes the client.
func (d *Etcd) Close() error {
	d.mu.Lock()
	for id, lease := range d.leases {
		lease.cancel()
		delete(d.leases, id)
	}
	d.mu.Unlock()
	return d.client.Close()
}
