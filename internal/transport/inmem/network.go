// Package inmem provides an in-process group transport. Every member joins
// one Network and receives a channel whose broadcasts invoke the other
// members' muxes directly. Tests drive it with injected per-member
// behaviors; single-binary demos use it as a zero-dependency transport.
package inmem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/quasar/internal/group"
)

var (
	ErrNetworkClosed = errors.New("inmem: network is closed")
	ErrChannelClosed = errors.New("inmem: channel is closed")
)

// DefaultWait bounds broadcasts that carry no explicit window.
const DefaultWait = 5 * time.Second

// Behavior injects failure modes for one member, visible only to this
// transport. The zero value answers promptly.
type Behavior struct {
	Delay       time.Duration // answer after this long
	Fault       string        // answer with this fault instead of running the handler
	Unreachable bool          // report the member as unreachable
	Silent      bool          // never answer; the member shows up absent
}

type port struct {
	member   group.Member
	mux      *group.Mux
	behavior Behavior
}

// Network connects in-process members. Broadcast order follows join order,
// so response sets have a stable, predictable layout.
type Network struct {
	mu          sync.RWMutex
	name        string
	ports       []*port
	defaultWait time.Duration
	closed      bool
}

// NewNetwork creates an empty network for the named group.
func NewNetwork(name string) *Network {
	return &Network{name: name, defaultWait: DefaultWait}
}

// SetDefaultWait changes the window used by broadcasts without an explicit
// timeout.
func (n *Network) SetDefaultWait(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d > 0 {
		n.defaultWait = d
	}
}

// Join adds a member with its handler mux and returns the channel it
// dispatches on. Joining an already-present member ID replaces its mux.
func (n *Network) Join(m group.Member, mux *group.Mux) (*Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNetworkClosed
	}
	for _, p := range n.ports {
		if p.member.ID == m.ID {
			p.member = m
			p.mux = mux
			return &Channel{net: n, self: m.ID}, nil
		}
	}
	n.ports = append(n.ports, &port{member: m, mux: mux})
	return &Channel{net: n, self: m.ID}, nil
}

// Leave removes a member. Broadcasts dispatched afterwards no longer wait
// for it.
func (n *Network) Leave(id group.MemberID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, p := range n.ports {
		if p.member.ID == id {
			n.ports = append(n.ports[:i], n.ports[i+1:]...)
			return
		}
	}
}

// SetBehavior installs a failure mode for one member.
func (n *Network) SetBehavior(id group.MemberID, b Behavior) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.ports {
		if p.member.ID == id {
			p.behavior = b
			return
		}
	}
}

// Members returns the current membership in join order.
func (n *Network) Members() []group.Member {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]group.Member, len(n.ports))
	for i, p := range n.ports {
		out[i] = p.member
	}
	return out
}

// Close shuts the network down; all channels fail afterwards.
func (n *Network) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.ports = nil
}

func (n *Network) snapshot() ([]*port, time.Duration, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, 0, ErrNetworkClosed
	}
	ports := make([]*port, len(n.ports))
	copy(ports, n.ports)
	return ports, n.defaultWait, nil
}

// Channel is one member's handle on the network.
type Channel struct {
	net    *Network
	self   group.MemberID
	closed atomic.Bool
}

// Broadcast invokes every member's mux concurrently and gathers one
// response per member. Members governed by a Silent behavior (or too slow
// for the window) come back absent; Unreachable behaviors come back
// unreachable; Fault behaviors and handler errors come back as faults.
func (c *Channel) Broadcast(ctx context.Context, action group.Action, opts group.CallOptions) (*group.RspSet, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	ports, defaultWait, err := c.net.snapshot()
	if err != nil {
		return nil, err
	}

	window := opts.Timeout
	if window <= 0 {
		window = defaultWait
	}

	type indexed struct {
		i   int
		rsp group.Rsp
	}
	results := make(chan indexed, len(ports))

	expected := 0
	for i, p := range ports {
		if p.behavior.Unreachable {
			results <- indexed{i, group.UnreachableRsp(p.member.ID)}
			expected++
			continue
		}
		if p.behavior.Silent {
			continue
		}
		expected++
		go func(i int, p *port) {
			if p.behavior.Delay > 0 {
				select {
				case <-time.After(p.behavior.Delay):
				case <-ctx.Done():
					return
				}
			}
			if p.behavior.Fault != "" {
				results <- indexed{i, group.FaultRsp(p.member.ID, p.behavior.Fault)}
				return
			}
			v, err := p.mux.Dispatch(ctx, action)
			if err != nil {
				results <- indexed{i, group.FaultRsp(p.member.ID, err.Error())}
				return
			}
			results <- indexed{i, group.ValueRsp(p.member.ID, v)}
		}(i, p)
	}

	rsps := make([]group.Rsp, len(ports))
	for i, p := range ports {
		rsps[i] = group.AbsentRsp(p.member.ID)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	received := 0
collect:
	for received < expected {
		select {
		case r := <-results:
			rsps[r.i] = r.rsp
			received++
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return group.NewRspSet(rsps...), nil
}

// Close detaches this channel and removes its member from the network.
func (c *Channel) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.net.Leave(c.self)
	}
	return nil
}
