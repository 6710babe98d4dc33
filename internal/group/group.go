// Package group defines the domain types shared by every Quasar transport:
// member identity, the action envelope carried by a broadcast, the tagged
// per-member response model, and the Channel contract that transports
// implement.
//
// A "group" is a set of cooperating processes reachable over one broadcast
// channel. Dispatching an action sends it to every member; each member
// produces exactly one response, and the full response set is returned to
// the dispatcher for reduction.
package group

import (
	"encoding/json"
	"time"
)

// MemberID uniquely identifies a member within a group.
type MemberID string

// Member describes one process participating in a group, as published by
// the discovery backend.
type Member struct {
	ID       MemberID          `json:"id"`
	Name     string            `json:"name"`
	Addr     string            `json:"addr"` // transport address (host:port for gRPC; informational for pub/sub)
	Labels   map[string]string `json:"labels,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
}

// Action is the opaque descriptor of what every member should run. The
// dispatch layer never inspects Args; only the responder-side mux decodes
// them.
type Action struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// NewAction builds an action with pre-encoded arguments.
func NewAction(name string, args json.RawMessage) Action {
	return Action{Name: name, Args: args}
}

// MarshalAction encodes args and wraps them in an Action. It is a
// convenience for callers holding a Go value rather than raw JSON.
func MarshalAction(name string, args any) (Action, error) {
	if args == nil {
		return Action{Name: name}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Action{}, err
	}
	return Action{Name: name, Args: raw}, nil
}
