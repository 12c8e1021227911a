// Package codec defines how cache values are converted to and from the
// byte slices stored in SQLite.
//
// The default codec used by cachedb is [Msgpack]; [JSON] is provided for
// callers that need the stored BLOBs to stay human readable (for example
// when inspecting a cache file with the sqlite3 shell). Custom
// serialization can be plugged in by implementing [Codec].
package codec

// Codec encodes and decodes cache values.
//
// Implementations must be safe for concurrent use; a single Codec instance
// is shared by every operation on a cache handle.
type Codec interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal deserializes data into v, which must be a pointer.
	Unmarshal(data []byte, v any) error
	// Name identifies the codec in logs and error messages.
	Name() string
}
