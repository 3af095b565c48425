package grpc

import "encoding/json"

import "google.golang.org/grpc/encoding"

// codecName is the gRPC content-subtype this package's messages are
// carried under. There is no .proto/protoc step in this exercise, so
// every message here is a plain Go struct marshaled with
// encoding/json rather than protobuf-generated types; registering a
// custom encoding.Codec is the documented grpc-go mechanism for that,
// exercised the same way the rest of the ecosystem swaps codecs (the
// teacher's dependency on google.golang.org/grpc has no codec example
// of its own, since it only ever consumes pre-generated protobuf
// stubs via Kurtosis; this package is the one place in the repo that
// talks to grpc's public encoding registry directly).
const codecName = "faultsolve-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
