package grpcchan

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype both sides of the channel speak.
// Clients opt in with grpc.CallContentSubtype; servers pick the codec up
// from the request header as long as it is registered.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals request and reply messages as JSON so the service
// needs no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpcchan: encode %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpcchan: decode %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
