// Package grpcchan carries group broadcasts as per-member unary gRPC
// calls. The dispatcher fans one Invoke out to every member known to
// discovery at dispatch time, the local member included, and folds the
// per-call outcomes into a response set: a clean reply is a value or a
// fault, a deadline hit is an absent mark, and any other RPC failure marks
// the member unreachable.
//
// The service descriptor and its JSON codec are written by hand, so the
// wire format is plain JSON under a gRPC framing and no code generation is
// involved.
package grpcchan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/oriys/quasar/internal/discovery"
	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
)

var ErrChannelClosed = errors.New("grpcchan: channel is closed")

// DefaultWait bounds broadcasts that carry no explicit window.
const DefaultWait = 5 * time.Second

// Config configures a channel.
type Config struct {
	Group       string        // group name, recorded for logs
	Self        group.Member  // the local member; its own responder is called like any peer's
	DefaultWait time.Duration // window for broadcasts without an explicit timeout
}

// Channel is the dispatch side of the group. Each member address gets one
// cached client connection; gRPC reconnects under the hood, so a member
// that restarts keeps its slot.
type Channel struct {
	disco       discovery.Discovery
	self        group.Member
	groupName   string
	defaultWait time.Duration

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed atomic.Bool
}

// New builds a channel over the given discovery view. The caller keeps
// ownership of the discovery backend.
func New(disco discovery.Discovery, cfg Config) (*Channel, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("grpcchan: group name is required")
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = DefaultWait
	}
	return &Channel{
		disco:       disco,
		self:        cfg.Self,
		groupName:   cfg.Group,
		defaultWait: cfg.DefaultWait,
	}, nil
}

// Broadcast calls every current member in parallel and gathers one
// response per member, in membership order. Per-member failures land in
// the set; the error return fires only when the membership cannot be
// resolved or ctx ends before the fan-out settles.
func (c *Channel) Broadcast(ctx context.Context, action group.Action, opts group.CallOptions) (*group.RspSet, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}

	members, err := c.disco.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("grpcchan: resolve members: %w", err)
	}
	if len(members) == 0 {
		return group.NewRspSet(), nil
	}

	window := opts.Timeout
	if window <= 0 {
		window = c.defaultWait
	}

	req := &invokeRequest{
		CallID:       uuid.New().String(),
		Sender:       c.self.ID,
		Action:       action,
		NoTotalOrder: opts.NoTotalOrder,
	}

	// Each goroutine owns exactly one slot, so the slice needs no lock.
	rsps := make([]group.Rsp, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		conn, err := c.conn(m.Addr)
		if err != nil {
			logging.Op().Debug("member has no usable address", "member", m.ID, "addr", m.Addr, "error", err)
			rsps[i] = group.UnreachableRsp(m.ID)
			continue
		}
		wg.Add(1)
		go func(i int, m group.Member, conn *grpc.ClientConn) {
			defer wg.Done()
			rsps[i] = c.call(ctx, conn, m, req, window)
		}(i, m, conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// A cancelled ctx fails every leg almost instantly, so done can
		// race the cancellation signal; the cancellation still wins.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return group.NewRspSet(rsps...), nil
}

// call runs one leg of the fan-out and maps its outcome.
func (c *Channel) call(ctx context.Context, conn *grpc.ClientConn, m group.Member, req *invokeRequest, window time.Duration) group.Rsp {
	cctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	reply := new(invokeReply)
	if err := conn.Invoke(cctx, invokeMethod, req, reply); err != nil {
		code := status.Code(err)
		if code == codes.DeadlineExceeded {
			return group.AbsentRsp(m.ID)
		}
		logging.Op().Debug("member unreachable", "member", m.ID, "addr", m.Addr, "code", code.String())
		return group.UnreachableRsp(m.ID)
	}
	if reply.Fault != "" {
		return group.FaultRsp(m.ID, reply.Fault)
	}
	return group.ValueRsp(m.ID, group.Box(reply.Value))
}

// conn returns the cached connection for addr, dialing lazily.
func (c *Channel) conn(addr string) (*grpc.ClientConn, error) {
	if addr == "" {
		return nil, fmt.Errorf("grpcchan: member has no address")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcchan: connect %s: %w", addr, err)
	}
	if c.conns == nil {
		c.conns = make(map[string]*grpc.ClientConn)
	}
	c.conns[addr] = conn
	return conn, nil
}

// Close tears down every cached connection; later broadcasts fail.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	logging.Op().Info("left group channel", "member", c.self.ID, "transport", "grpc")
	return firstErr
}
