package grpcchan

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oriys/quasar/internal/discovery"
	"github.com/oriys/quasar/internal/group"
)

func whoamiMux(answer string) *group.Mux {
	mux := group.NewMux()
	mux.Handle("whoami", func(context.Context, json.RawMessage) (any, error) {
		return answer, nil
	})
	return mux
}

// startResponder brings a member up on a loopback port and returns it with
// its live address filled in.
func startResponder(t *testing.T, id string, mux *group.Mux) group.Member {
	t.Helper()
	self := group.Member{ID: group.MemberID(id), Name: "node-" + id}
	r := NewResponder(self, mux)
	if err := r.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start responder %s: %v", id, err)
	}
	t.Cleanup(r.Stop)
	self.Addr = r.Addr()
	return self
}

func newTestChannel(t *testing.T, disco discovery.Discovery, self group.Member) *Channel {
	t.Helper()
	ch, err := New(disco, Config{Group: "grpc-test", Self: self})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func unwrap(t *testing.T, r group.Rsp) any {
	t.Helper()
	boxed, ok := r.Value.(*group.Boxed)
	if !ok {
		t.Fatalf("member %s: value is %T, want *group.Boxed", r.Sender, r.Value)
	}
	v, err := boxed.Unwrap()
	if err != nil {
		t.Fatalf("member %s: unwrap: %v", r.Sender, err)
	}
	return v
}

func TestChannel_Broadcast(t *testing.T) {
	memberA := startResponder(t, "a", whoamiMux("A"))
	memberB := startResponder(t, "b", whoamiMux("B"))
	disco := discovery.NewStatic(memberA, memberB)

	ch := newTestChannel(t, disco, memberA)

	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if set.Size() != 2 {
		t.Fatalf("size = %d, want 2", set.Size())
	}

	all := set.All()
	if all[0].Sender != "a" || all[1].Sender != "b" {
		t.Fatalf("order = [%s %s], want [a b]", all[0].Sender, all[1].Sender)
	}
	if got := unwrap(t, all[0]); got != "A" {
		t.Errorf("member a answered %v, want A", got)
	}
	if got := unwrap(t, all[1]); got != "B" {
		t.Errorf("member b answered %v, want B", got)
	}
}

func TestChannel_NullAnswer(t *testing.T) {
	quiet := group.NewMux()
	quiet.Handle("whoami", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	memberA := startResponder(t, "a", quiet)
	disco := discovery.NewStatic(memberA)
	ch := newTestChannel(t, disco, memberA)

	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	r := set.All()[0]
	if r.Kind != group.RspValue {
		t.Fatalf("kind = %q, want value", r.Kind)
	}
	boxed, ok := r.Value.(*group.Boxed)
	if !ok {
		t.Fatalf("value is %T, want *group.Boxed", r.Value)
	}
	if !boxed.IsNull() {
		t.Errorf("boxed value = %s, want null", boxed.Raw)
	}
}

func TestChannel_Fault(t *testing.T) {
	broken := group.NewMux()
	broken.Handle("whoami", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("cannot say")
	})

	memberA := startResponder(t, "a", whoamiMux("A"))
	memberB := startResponder(t, "b", broken)
	disco := discovery.NewStatic(memberA, memberB)

	ch := newTestChannel(t, disco, memberA)

	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, r := range set.All() {
		switch r.Sender {
		case "a":
			if r.Kind != group.RspValue {
				t.Errorf("member a kind = %q, want value", r.Kind)
			}
		case "b":
			if r.Kind != group.RspFault || r.Fault != "cannot say" {
				t.Errorf("member b = %q/%q, want fault/cannot say", r.Kind, r.Fault)
			}
		}
	}

	// An action nobody registered is a handler fault too, not a
	// transport problem.
	set, err = ch.Broadcast(context.Background(), group.Action{Name: "no.such.action"}, group.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Broadcast unknown action: %v", err)
	}
	if got := set.CountKind(group.RspFault); got != 2 {
		t.Errorf("fault count = %d, want 2", got)
	}
}

func TestChannel_SlowMemberComesBackAbsent(t *testing.T) {
	slow := group.NewMux()
	slow.Handle("whoami", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	memberA := startResponder(t, "a", whoamiMux("A"))
	memberB := startResponder(t, "b", slow)
	disco := discovery.NewStatic(memberA, memberB)

	ch := newTestChannel(t, disco, memberA)

	start := time.Now()
	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast took %v, should settle at the window", elapsed)
	}

	for _, r := range set.All() {
		switch r.Sender {
		case "a":
			if r.Kind != group.RspValue {
				t.Errorf("member a kind = %q, want value", r.Kind)
			}
		case "b":
			if r.Kind != group.RspAbsent {
				t.Errorf("member b kind = %q, want absent", r.Kind)
			}
		}
	}
}

func TestChannel_UnreachableMember(t *testing.T) {
	// Grab a loopback port and release it so nothing is listening there.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	deadAddr := lis.Addr().String()
	lis.Close()

	memberA := startResponder(t, "a", whoamiMux("A"))
	ghost := group.Member{ID: "zz-ghost", Name: "node-ghost", Addr: deadAddr}
	disco := discovery.NewStatic(memberA, ghost)

	ch := newTestChannel(t, disco, memberA)

	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, r := range set.All() {
		switch r.Sender {
		case "a":
			if r.Kind != group.RspValue {
				t.Errorf("member a kind = %q, want value", r.Kind)
			}
		case "zz-ghost":
			if r.Kind != group.RspUnreachable {
				t.Errorf("ghost kind = %q, want unreachable", r.Kind)
			}
		}
	}
}

func TestChannel_EmptyGroup(t *testing.T) {
	ch := newTestChannel(t, discovery.NewStatic(), group.Member{ID: "a"})

	set, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if set.Size() != 0 {
		t.Errorf("size = %d, want 0", set.Size())
	}
}

func TestChannel_Closed(t *testing.T) {
	memberA := startResponder(t, "a", whoamiMux("A"))
	disco := discovery.NewStatic(memberA)

	ch, err := New(disco, Config{Group: "grpc-test", Self: memberA})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := ch.Broadcast(context.Background(), group.Action{Name: "whoami"}, group.CallOptions{}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Broadcast after Close = %v, want ErrChannelClosed", err)
	}
}

func TestChannel_ContextCanceled(t *testing.T) {
	stuck := group.NewMux()
	stuck.Handle("whoami", func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	memberA := startResponder(t, "a", stuck)
	disco := discovery.NewStatic(memberA)
	ch := newTestChannel(t, disco, memberA)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := ch.Broadcast(ctx, group.Action{Name: "whoami"}, group.CallOptions{Timeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Broadcast = %v, want context.Canceled", err)
	}
}
