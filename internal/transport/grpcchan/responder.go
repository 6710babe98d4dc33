package grpcchan

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/tracing"
)

// Responder serves this member's side of the group: it answers Invoke
// calls from dispatching peers by running the action on the local mux.
type Responder struct {
	self   group.Member
	mux    *group.Mux
	server *grpc.Server
	lis    net.Listener
}

// NewResponder builds the server; Start makes it reachable.
func NewResponder(self group.Member, mux *group.Mux) *Responder {
	r := &Responder{self: self, mux: mux}
	r.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor),
	)
	r.server.RegisterService(&groupServiceDesc, r)
	return r
}

// Start listens on address and serves in the background.
func (r *Responder) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("grpcchan: listen %s: %w", address, err)
	}
	r.lis = lis

	go func() {
		if err := r.server.Serve(lis); err != nil {
			logging.Op().Error("responder stopped", "error", err)
		}
	}()

	logging.Op().Info("responder serving", "member", r.self.ID, "address", lis.Addr().String(), "transport", "grpc")
	return nil
}

// Addr reports the bound listen address, useful when Start was given ":0".
func (r *Responder) Addr() string {
	if r.lis == nil {
		return ""
	}
	return r.lis.Addr().String()
}

// Stop drains in-flight calls and closes the listener.
func (r *Responder) Stop() {
	r.server.GracefulStop()
}

// Invoke runs one broadcast leg locally. Handler failures come back in the
// reply's Fault field; an RPC error here means the responder itself broke.
func (r *Responder) Invoke(ctx context.Context, req *invokeRequest) (*invokeReply, error) {
	ctx, span := tracing.StartServerSpan(ctx, "quasar.respond",
		tracing.AttrAction.String(req.Action.Name),
		tracing.AttrCallID.String(req.CallID),
		tracing.AttrMemberID.String(string(r.self.ID)),
	)
	defer span.End()

	start := time.Now()
	value, err := r.mux.Dispatch(ctx, req.Action)
	metrics.RecordHandlerDuration(req.Action.Name, time.Since(start).Milliseconds())

	reply := &invokeReply{Sender: r.self.ID}
	if err != nil {
		reply.Fault = err.Error()
		tracing.SetSpanError(span, err)
		return reply, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		reply.Fault = fmt.Sprintf("encode value: %v", err)
		return reply, nil
	}
	reply.Value = raw
	tracing.SetSpanOK(span)
	return reply, nil
}

// loggingInterceptor logs every Invoke with its duration.
func loggingInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	duration := time.Since(start)
	if err != nil {
		logging.Op().Warn("grpc request failed",
			"method", info.FullMethod,
			"duration", duration,
			"error", err,
		)
	} else {
		logging.Op().Debug("grpc request completed",
			"method", info.FullMethod,
			"duration", duration,
		)
	}

	return resp, err
}
