package group

import (
	"context"
	"time"
)

// RspKind classifies the outcome reported for one member of a broadcast.
// Every per-member response carries exactly one kind; consumers switch on
// it instead of probing values at runtime.
type RspKind string

const (
	RspValue       RspKind = "value"       // Member answered with a (possibly nil) value
	RspFault       RspKind = "fault"       // Member's handler failed; Fault carries the message
	RspUnreachable RspKind = "unreachable" // Member could not be contacted or its reply was lost
	RspAbsent      RspKind = "absent"      // Member sent nothing inside the collection window
)

// Rsp is one member's contribution to a broadcast response set.
type Rsp struct {
	Sender MemberID `json:"sender"`
	Kind   RspKind  `json:"kind"`
	Value  any      `json:"value,omitempty"`
	Fault  string   `json:"fault,omitempty"`
}

// ValueRsp reports a successful answer from sender. A nil value is a valid
// answer; the reduction layer decides whether to keep it.
func ValueRsp(sender MemberID, value any) Rsp {
	return Rsp{Sender: sender, Kind: RspValue, Value: value}
}

// FaultRsp reports a handler failure on sender.
func FaultRsp(sender MemberID, fault string) Rsp {
	return Rsp{Sender: sender, Kind: RspFault, Fault: fault}
}

// UnreachableRsp reports that sender could not be contacted.
func UnreachableRsp(sender MemberID) Rsp {
	return Rsp{Sender: sender, Kind: RspUnreachable}
}

// AbsentRsp reports that sender stayed silent for the whole collection window.
func AbsentRsp(sender MemberID) Rsp {
	return Rsp{Sender: sender, Kind: RspAbsent}
}

// RspSet holds the responses gathered for one broadcast, in a fixed order
// chosen by the transport (membership order at dispatch time). The order is
// stable for the lifetime of the set so that first-match reductions are
// deterministic.
type RspSet struct {
	rsps []Rsp
}

// NewRspSet builds a response set preserving the order of rsps.
func NewRspSet(rsps ...Rsp) *RspSet {
	s := &RspSet{rsps: make([]Rsp, len(rsps))}
	copy(s.rsps, rsps)
	return s
}

// Add appends a response, keeping insertion order.
func (s *RspSet) Add(r Rsp) {
	s.rsps = append(s.rsps, r)
}

// All returns the responses in collection order. The returned slice is the
// set's backing storage; callers must not mutate it.
func (s *RspSet) All() []Rsp {
	if s == nil {
		return nil
	}
	return s.rsps
}

// Size reports the number of responses in the set.
func (s *RspSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.rsps)
}

// CountKind reports how many responses carry the given kind.
func (s *RspSet) CountKind(kind RspKind) int {
	n := 0
	for _, r := range s.All() {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// ResponseMode selects how many answers a broadcast waits for.
type ResponseMode string

const (
	// RspAll waits for every member known at dispatch time to answer or for
	// the collection window to close, whichever comes first.
	RspAll ResponseMode = "all"
)

// CallOptions tunes a single broadcast.
type CallOptions struct {
	// Timeout bounds the collection window. Zero means the channel's
	// default wait; transports must translate zero into their own bound
	// rather than waiting forever.
	Timeout time.Duration

	// NoTotalOrder marks the message as exempt from total-order delivery.
	// Group broadcasts are independent request/response exchanges and never
	// need ordering relative to each other; transports without ordered
	// delivery carry the flag as metadata.
	NoTotalOrder bool

	// Mode selects the wait strategy. The zero value is treated as RspAll.
	Mode ResponseMode
}

// Channel is the broadcast transport a group runs on.
//
// Broadcast sends action to every current member and gathers one response
// per member into a RspSet. Per-member problems (handler faults, silent or
// unreachable peers) are encoded in the set, not returned as errors; the
// error return is reserved for whole-dispatch failures such as a publish
// that never left this process or a cancelled context.
//
// Implementations:
//   - inmem.Network: in-process loopback for tests and single-binary demos
//   - redischan.Channel: Redis pub/sub request/reply
//   - grpcchan.Channel: per-member gRPC fan-out
type Channel interface {
	Broadcast(ctx context.Context, action Action, opts CallOptions) (*RspSet, error)

	// Close releases transport resources. Broadcasts issued after Close fail.
	Close() error
}
