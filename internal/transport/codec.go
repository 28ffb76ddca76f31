// ABOUTME: JSON codec registered with gRPC so the broker service needs no generated code.
// ABOUTME: Clients select it with grpc.CallContentSubtype(CodecName).

package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

// JSONCodec marshals gRPC messages as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
