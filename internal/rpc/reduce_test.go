package rpc

import (
	"encoding/json"
	"testing"

	"github.com/oriys/quasar/internal/group"
)

func TestReduce_FirstValueWins(t *testing.T) {
	set := group.NewRspSet(
		group.ValueRsp("a", "alpha"),
		group.ValueRsp("b", "beta"),
		group.ValueRsp("c", "gamma"),
	)
	got, err := reduce(set)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got != "alpha" {
		t.Errorf("reduce = %v, want %q", got, "alpha")
	}
}

func TestReduce_FaultsAbsorbed(t *testing.T) {
	set := group.NewRspSet(
		group.FaultRsp("a", "disk on fire"),
		group.ValueRsp("b", "beta"),
	)
	got, err := reduce(set)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got != "beta" {
		t.Errorf("reduce = %v, want %q", got, "beta")
	}
}

func TestReduce_UnreachableAbsorbed(t *testing.T) {
	set := group.NewRspSet(
		group.UnreachableRsp("a"),
		group.AbsentRsp("b"),
		group.ValueRsp("c", float64(7)),
	)
	got, err := reduce(set)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got != float64(7) {
		t.Errorf("reduce = %v, want 7", got)
	}
}

func TestReduce_NullAnswersDropped(t *testing.T) {
	set := group.NewRspSet(
		group.ValueRsp("a", nil),
		group.ValueRsp("b", group.Box(json.RawMessage("null"))),
		group.ValueRsp("c", "kept"),
	)
	got, err := reduce(set)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got != "kept" {
		t.Errorf("reduce = %v, want %q", got, "kept")
	}
}

func TestReduce_NoSurvivorsIsAbsenceNotError(t *testing.T) {
	tests := []struct {
		name string
		set  *group.RspSet
	}{
		{"empty set", group.NewRspSet()},
		{"all faults", group.NewRspSet(group.FaultRsp("a", "x"), group.FaultRsp("b", "y"))},
		{"all unreachable", group.NewRspSet(group.UnreachableRsp("a"), group.UnreachableRsp("b"))},
		{"all silent", group.NewRspSet(group.AbsentRsp("a"), group.AbsentRsp("b"))},
		{"all null values", group.NewRspSet(group.ValueRsp("a", nil), group.ValueRsp("b", nil))},
		{"mixed failures", group.NewRspSet(
			group.FaultRsp("a", "x"),
			group.UnreachableRsp("b"),
			group.AbsentRsp("c"),
			group.ValueRsp("d", nil),
		)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reduce(tt.set)
			if err != nil {
				t.Fatalf("reduce returned error: %v", err)
			}
			if got != nil {
				t.Errorf("reduce = %v, want nil", got)
			}
		})
	}
}

func TestReduce_BoxedSurvivorUnwrapped(t *testing.T) {
	set := group.NewRspSet(
		group.ValueRsp("a", group.Box(json.RawMessage(`{"region":"eu-west-1"}`))),
	)
	got, err := reduce(set)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("reduce returned %T, want unwrapped map", got)
	}
	if m["region"] != "eu-west-1" {
		t.Errorf("unexpected contents: %v", m)
	}
}

func TestReduce_DeterministicUnderFixedOrder(t *testing.T) {
	set := group.NewRspSet(
		group.FaultRsp("a", "x"),
		group.ValueRsp("b", "winner"),
		group.ValueRsp("c", "loser"),
	)
	for i := 0; i < 10; i++ {
		got, err := reduce(set)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got != "winner" {
			t.Fatalf("run %d: reduce = %v, want %q", i, got, "winner")
		}
	}
}

func TestReduce_MalformedBoxedValue(t *testing.T) {
	set := group.NewRspSet(
		group.ValueRsp("a", &group.Boxed{Raw: json.RawMessage(`{"broken`)}),
	)
	if _, err := reduce(set); err == nil {
		t.Fatal("expected decode error for malformed boxed payload")
	}
}
