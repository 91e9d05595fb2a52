package transport

import "testing"

func TestJSONCodec_MarshalUnmarshal_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	in := &Envelope{
		NodeID:          "node-a",
		Channel:         "swarm:heartbeat",
		Payload:         []byte("hello"),
		TimestampUnixNs: 1234,
		Signature:       []byte{1, 2, 3},
	}

	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out := new(Envelope)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.NodeID != in.NodeID || out.Channel != in.Channel || out.TimestampUnixNs != in.TimestampUnixNs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", out.Payload, in.Payload)
	}
}

func TestJSONCodec_Name(t *testing.T) {
	if got := (jsonCodec{}).Name(); got != "json" {
		t.Fatalf("expected codec name json, got %q", got)
	}
}
