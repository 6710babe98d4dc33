package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oriys/quasar/internal/group"
)

func echoMux(id string) *group.Mux {
	mux := group.NewMux()
	mux.Handle("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(args, &s); err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s:%s", id, s), nil
	})
	return mux
}

func join(t *testing.T, net *Network, id string, mux *group.Mux) *Channel {
	t.Helper()
	ch, err := net.Join(group.Member{ID: group.MemberID(id), Name: id}, mux)
	if err != nil {
		t.Fatalf("Join(%s): %v", id, err)
	}
	return ch
}

func TestNetwork_Broadcast(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	join(t, net, "c", echoMux("c"))

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"hi"`)}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if set.Size() != 3 {
		t.Fatalf("size = %d, want 3", set.Size())
	}

	wantOrder := []group.MemberID{"a", "b", "c"}
	for i, r := range set.All() {
		if r.Sender != wantOrder[i] {
			t.Errorf("position %d: sender = %q, want %q", i, r.Sender, wantOrder[i])
		}
		if r.Kind != group.RspValue {
			t.Errorf("member %s: kind = %q, want value", r.Sender, r.Kind)
		}
		want := fmt.Sprintf("%s:hi", wantOrder[i])
		if r.Value != want {
			t.Errorf("member %s: value = %v, want %q", r.Sender, r.Value, want)
		}
	}
}

func TestNetwork_BroadcastFault(t *testing.T) {
	net := NewNetwork("test")

	broken := group.NewMux()
	broken.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("handler gave up")
	})

	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", broken)

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := set.CountKind(group.RspFault); got != 1 {
		t.Errorf("fault count = %d, want 1", got)
	}
	for _, r := range set.All() {
		if r.Sender == "b" && r.Fault != "handler gave up" {
			t.Errorf("fault text = %q", r.Fault)
		}
	}
}

func TestNetwork_UnknownActionIsFault(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", group.NewMux())

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "nothing"}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := set.CountKind(group.RspFault); got != 1 {
		t.Errorf("fault count = %d, want 1", got)
	}
}

func TestNetwork_BehaviorUnreachable(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	net.SetBehavior("b", Behavior{Unreachable: true})

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := set.CountKind(group.RspUnreachable); got != 1 {
		t.Errorf("unreachable count = %d, want 1", got)
	}
	if got := set.CountKind(group.RspValue); got != 1 {
		t.Errorf("value count = %d, want 1", got)
	}
}

func TestNetwork_BehaviorFault(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	net.SetBehavior("b", Behavior{Fault: "injected"})

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for _, r := range set.All() {
		if r.Sender == "b" {
			if r.Kind != group.RspFault || r.Fault != "injected" {
				t.Errorf("member b: kind=%q fault=%q, want injected fault", r.Kind, r.Fault)
			}
		}
	}
}

func TestNetwork_BehaviorSilent(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	net.SetBehavior("b", Behavior{Silent: true})

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := set.CountKind(group.RspAbsent); got != 1 {
		t.Errorf("absent count = %d, want 1", got)
	}
}

func TestNetwork_BehaviorDelayBeyondWindow(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	net.SetBehavior("b", Behavior{Delay: time.Second})

	start := time.Now()
	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: 80 * time.Millisecond})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("broadcast took %v, want the window to close around 80ms", elapsed)
	}
	if got := set.CountKind(group.RspAbsent); got != 1 {
		t.Errorf("absent count = %d, want 1", got)
	}
}

func TestNetwork_Leave(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	chB := join(t, net, "b", echoMux("b"))

	if err := chB.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	set, err := chA.Broadcast(context.Background(), group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if set.Size() != 1 {
		t.Errorf("size = %d, want 1 after leave", set.Size())
	}

	if _, err := chB.Broadcast(context.Background(), group.Action{Name: "echo"}, group.CallOptions{}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("closed channel error = %v, want ErrChannelClosed", err)
	}
}

func TestNetwork_Closed(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	net.Close()

	if _, err := chA.Broadcast(context.Background(), group.Action{Name: "echo"}, group.CallOptions{}); !errors.Is(err, ErrNetworkClosed) {
		t.Errorf("error = %v, want ErrNetworkClosed", err)
	}
	if _, err := net.Join(group.Member{ID: "z"}, group.NewMux()); !errors.Is(err, ErrNetworkClosed) {
		t.Errorf("Join error = %v, want ErrNetworkClosed", err)
	}
}

func TestNetwork_ContextCancelled(t *testing.T) {
	net := NewNetwork("test")
	chA := join(t, net, "a", echoMux("a"))
	join(t, net, "b", echoMux("b"))
	net.SetBehavior("b", Behavior{Delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := chA.Broadcast(ctx, group.Action{Name: "echo", Args: json.RawMessage(`"x"`)}, group.CallOptions{Timeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
