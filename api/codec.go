package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the grpc content subtype both sides of the frontier protocol
// speak. Clients must dial with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals the hand-maintained wire messages. Registering it lets
// grpc route frames for the "json" subtype without generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
