// Package transport implements the gRPC+mTLS peer wire for the unified
// message protocol: a concrete Fabric pub/sub backend that forwards
// Publish traffic to directly-dialed peers instead of routing it through
// a shared broker.
//
// The wire is a TLS 1.3-only mTLS listener carrying one unary RPC: a
// signed, timestamped Envelope in, an Ack out. Envelopes are verified in
// three steps — timestamp freshness, trusted-peer lookup, Ed25519
// signature — before their payload reaches any local subscriber. Structs
// cross the wire through a JSON codec and a hand-written service
// descriptor rather than generated protobuf stubs.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec lets the gRPC server/client exchange plain Go structs without
// a protoc-generated proto.Message, since wiring one would mean fabricating
// stub code that does not exist in the pack.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// methodRelay is the fully-qualified gRPC method name for Relay, matching
// the ServiceDesc registered in service.go.
const methodRelay = "/swarmcore.transport.v1.Transport/Relay"
