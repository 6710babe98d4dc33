// Package discovery publishes and resolves group membership. A backend is
// a shared medium members announce themselves into; transports consult it
// to learn who must answer a broadcast.
//
// Backends:
//   - Static: fixed member list from configuration
//   - Redis: heartbeat keys with TTL
//   - Etcd: lease-attached keys with keepalive
//   - S3: object per member under a bucket prefix
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
)

// Discovery resolves and maintains group membership.
type Discovery interface {
	// Announce publishes m as alive. Called repeatedly; each call refreshes
	// the member's liveness.
	Announce(ctx context.Context, m group.Member) error

	// Members returns the members currently considered alive, sorted by ID.
	Members(ctx context.Context) ([]group.Member, error)

	// Forget withdraws a member immediately instead of letting it expire.
	Forget(ctx context.Context, id group.MemberID) error

	// Close releases backend resources.
	Close() error
}

// sortMembers orders members by ID so every backend reports membership in
// the same deterministic order.
func sortMembers(members []group.Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
}

// Announcer re-publishes the local member on a fixed interval.
type Announcer struct {
	d        Discovery
	member   group.Member
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewAnnouncer creates an announcer for the local member. A non-positive
// interval falls back to 5s.
func NewAnnouncer(d Discovery, member group.Member, interval time.Duration) *Announcer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Announcer{d: d, member: member, interval: interval, stopCh: make(chan struct{})}
}

// Start announces immediately and then keeps the member fresh until Stop.
func (a *Announcer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	a.announce()
	a.wg.Add(1)
	go a.loop()
	logging.Op().Info("membership announcer started", "member", a.member.ID, "interval", a.interval)
}

// Stop halts announcements and withdraws the member from the backend.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stopCh)
	a.mu.Unlock()

	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.d.Forget(ctx, a.member.ID); err != nil {
		logging.Op().Warn("withdraw member failed", "member", a.member.ID, "error", err)
	}
	logging.Op().Info("membership announcer stopped", "member", a.member.ID)
}

func (a *Announcer) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.announce()
		}
	}
}

func (a *Announcer) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()

	m := a.member
	m.LastSeen = time.Now().UTC()
	err := a.d.Announce(ctx, m)
	metrics.RecordAnnounce(err == nil)
	if err != nil {
		logging.Op().Warn("announce failed", "member", m.ID, "error", err)
	}
}
