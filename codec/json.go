package codec

import (
	"encoding/json"
)

// JSON returns a codec that stores values as JSON. It is slower and larger
// on the wire than [Msgpack] but keeps the stored BLOBs readable from
// outside Go, which is handy when debugging a cache file directly.
func JSON() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }
