package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/quasar/internal/group"
)

// countingBackend wraps Static and counts backend traffic.
type countingBackend struct {
	*Static
	announces   atomic.Int64
	memberReads atomic.Int64
	forgets     atomic.Int64
}

func newCountingBackend(members ...group.Member) *countingBackend {
	return &countingBackend{Static: NewStatic(members...)}
}

func (b *countingBackend) Announce(ctx context.Context, m group.Member) error {
	b.announces.Add(1)
	return b.Static.Announce(ctx, m)
}

func (b *countingBackend) Members(ctx context.Context) ([]group.Member, error) {
	b.memberReads.Add(1)
	return b.Static.Members(ctx)
}

func (b *countingBackend) Forget(ctx context.Context, id group.MemberID) error {
	b.forgets.Add(1)
	return b.Static.Forget(ctx, id)
}

func TestStatic(t *testing.T) {
	s := NewStatic(
		group.Member{ID: "charlie", Addr: "host-c:7001"},
		group.Member{ID: "alpha", Addr: "host-a:7001"},
		group.Member{ID: "bravo", Addr: "host-b:7001"},
	)

	members, err := s.Members(context.Background())
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	wantOrder := []group.MemberID{"alpha", "bravo", "charlie"}
	if len(members) != len(wantOrder) {
		t.Fatalf("len = %d, want %d", len(members), len(wantOrder))
	}
	for i, want := range wantOrder {
		if members[i].ID != want {
			t.Errorf("position %d: ID = %q, want %q", i, members[i].ID, want)
		}
	}

	if err := s.Forget(context.Background(), "bravo"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	members, _ = s.Members(context.Background())
	if len(members) != 2 {
		t.Errorf("len after Forget = %d, want 2", len(members))
	}

	if err := s.Announce(context.Background(), group.Member{ID: "delta"}); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	members, _ = s.Members(context.Background())
	if len(members) != 3 {
		t.Errorf("len after Announce = %d, want 3", len(members))
	}
}

func TestCache_CollapsesReads(t *testing.T) {
	backend := newCountingBackend(group.Member{ID: "a"})
	cache := NewCache(backend, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := cache.Members(context.Background()); err != nil {
			t.Fatalf("Members: %v", err)
		}
	}
	if got := backend.memberReads.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1", got)
	}
}

func TestCache_Expires(t *testing.T) {
	backend := newCountingBackend(group.Member{ID: "a"})
	cache := NewCache(backend, 30*time.Millisecond)

	cache.Members(context.Background())
	time.Sleep(60 * time.Millisecond)
	cache.Members(context.Background())

	if got := backend.memberReads.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2 after expiry", got)
	}
}

func TestCache_ForgetInvalidates(t *testing.T) {
	backend := newCountingBackend(group.Member{ID: "a"}, group.Member{ID: "b"})
	cache := NewCache(backend, time.Minute)

	members, _ := cache.Members(context.Background())
	if len(members) != 2 {
		t.Fatalf("len = %d, want 2", len(members))
	}

	if err := cache.Forget(context.Background(), "b"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	members, _ = cache.Members(context.Background())
	if len(members) != 1 {
		t.Errorf("len after Forget = %d, want 1", len(members))
	}
}

func TestAnnouncer(t *testing.T) {
	backend := newCountingBackend()
	a := NewAnnouncer(backend, group.Member{ID: "local", Addr: "host:7001"}, 20*time.Millisecond)

	a.Start()
	a.Start() // second Start is a no-op

	deadline := time.After(2 * time.Second)
	for backend.announces.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("announces = %d, want >= 3", backend.announces.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	members, _ := backend.Members(context.Background())
	if len(members) != 1 || members[0].ID != "local" {
		t.Fatalf("members = %v, want [local]", members)
	}
	if members[0].LastSeen.IsZero() {
		t.Error("LastSeen not stamped")
	}

	a.Stop()
	a.Stop() // second Stop is a no-op

	if got := backend.forgets.Load(); got != 1 {
		t.Errorf("forgets = %d, want 1", got)
	}
	members, _ = backend.Members(context.Background())
	if len(members) != 0 {
		t.Errorf("members after Stop = %v, want none", members)
	}
}
