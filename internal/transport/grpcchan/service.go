package grpcchan

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/oriys/quasar/internal/group"
)

const (
	serviceName  = "quasar.v1.Group"
	invokeMethod = "/quasar.v1.Group/Invoke"
)

// invokeRequest is the wire form of one broadcast leg.
type invokeRequest struct {
	CallID       string         `json:"call_id"`
	Sender       group.MemberID `json:"sender"`
	Action       group.Action   `json:"action"`
	NoTotalOrder bool           `json:"no_total_order"`
}

// invokeReply is one member's answer. A handler failure travels in Fault
// rather than as an RPC status so that callers can tell it apart from a
// transport error.
type invokeReply struct {
	Sender group.MemberID  `json:"sender"`
	Value  json.RawMessage `json:"value,omitempty"`
	Fault  string          `json:"fault,omitempty"`
}

// groupServer is the server-side contract behind the service descriptor.
type groupServer interface {
	Invoke(ctx context.Context, req *invokeRequest) (*invokeReply, error)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(invokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(groupServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(groupServer).Invoke(ctx, req.(*invokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// groupServiceDesc is written by hand; the service has a single unary
// method and JSON messages, so generated stubs would add nothing.
var groupServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*groupServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}
