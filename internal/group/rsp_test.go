package group

import (
	"testing"
)

func TestRspConstructors(t *testing.T) {
	tests := []struct {
		name     string
		rsp      Rsp
		wantKind RspKind
	}{
		{"value", ValueRsp("a", 42), RspValue},
		{"nil value", ValueRsp("a", nil), RspValue},
		{"fault", FaultRsp("b", "boom"), RspFault},
		{"unreachable", UnreachableRsp("c"), RspUnreachable},
		{"absent", AbsentRsp("d"), RspAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.rsp.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", tt.rsp.Kind, tt.wantKind)
			}
		})
	}

	if r := FaultRsp("b", "boom"); r.Fault != "boom" {
		t.Errorf("fault text = %q, want %q", r.Fault, "boom")
	}
}

func TestRspSet_Order(t *testing.T) {
	set := NewRspSet(
		ValueRsp("first", 1),
		ValueRsp("second", 2),
	)
	set.Add(ValueRsp("third", 3))

	all := set.All()
	if len(all) != 3 {
		t.Fatalf("size = %d, want 3", len(all))
	}
	wantOrder := []MemberID{"first", "second", "third"}
	for i, want := range wantOrder {
		if all[i].Sender != want {
			t.Errorf("position %d: sender = %q, want %q", i, all[i].Sender, want)
		}
	}
}

func TestRspSet_CountKind(t *testing.T) {
	set := NewRspSet(
		ValueRsp("a", 1),
		FaultRsp("b", "broken"),
		UnreachableRsp("c"),
		AbsentRsp("d"),
		ValueRsp("e", 2),
	)

	if got := set.CountKind(RspValue); got != 2 {
		t.Errorf("value count = %d, want 2", got)
	}
	if got := set.CountKind(RspFault); got != 1 {
		t.Errorf("fault count = %d, want 1", got)
	}
	if got := set.CountKind(RspUnreachable); got != 1 {
		t.Errorf("unreachable count = %d, want 1", got)
	}
	if got := set.CountKind(RspAbsent); got != 1 {
		t.Errorf("absent count = %d, want 1", got)
	}
}

func TestRspSet_NilSafe(t *testing.T) {
	var set *RspSet
	if set.Size() != 0 {
		t.Errorf("nil set size = %d, want 0", set.Size())
	}
	if set.All() != nil {
		t.Errorf("nil set All() = %v, want nil", set.All())
	}
}
