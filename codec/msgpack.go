package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack returns the default codec. Most Go types work out of the box:
// primitives, strings, maps, slices, and structs (optionally with msgpack
// struct tags for field name control). Custom behavior is available by
// implementing msgpack.CustomEncoder/CustomDecoder on the stored type.
func Msgpack() Codec {
	return msgpackCodec{}
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string { return "msgpack" }
