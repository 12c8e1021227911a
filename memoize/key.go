package memoize

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnhashable is reported when a cache key cannot be derived from the
// call arguments. It always surfaces before the wrapped function runs.
var ErrUnhashable = errors.New("memoize: arguments cannot be hashed into a cache key")

// Key derives the cache key for a memoized call: "memo/<name>/<hash>",
// where the hash is the xxhash64 digest of the canonical msgpack encoding
// of args (map keys sorted, so two equal maps always hash the same). The
// scheme is deterministic and collision-resistant for practical argument
// spaces; it is not cryptographic.
func Key(name string, args any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(args); err != nil {
		return "", errors.Join(ErrUnhashable, errors.Wrap(err, "encode arguments"))
	}
	return fmt.Sprintf("memo/%s/%016x", name, xxhash.Sum64(buf.Bytes())), nil
}
