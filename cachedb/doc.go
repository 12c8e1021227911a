// Package cachedb is a persistent key-value cache backed by an embedded
// SQLite database, using [modernc.org/sqlite] (pure Go, no CGO).
//
// # Handles
//
// [Open] returns a [DB] handle that owns the connection and a mutex. Every
// operation serializes on that mutex, so one handle is safe for concurrent
// use from any number of goroutines; operations on a handle are totally
// ordered by lock acquisition. Concurrent processes opening the same file
// rely on SQLite's own locking (the handle opens with a busy timeout), not
// on this package.
//
// The backing file is created if absent, and the schema migration is
// idempotent across repeated opens. Passing an empty path or ":memory:"
// selects an in-memory store; [WithTemporary] selects a file that is
// removed again when the handle is closed or the process is interrupted.
//
// # Values and TTLs
//
// Values are serialized through a [codec.Codec] (msgpack by default) and
// stored as BLOBs. An entry may carry a TTL; expiration is lazy — an
// expired entry is deleted on the next Get and reported as a miss, so
// correctness never depends on the background sweeper, which only exists
// to keep the file from accumulating dead rows. [DB.GetRaw] bypasses both
// decoding and expiry for inspection.
//
// # Batches
//
// [DB.Batch] groups writes into one transaction with all-or-nothing
// semantics:
//
//	err := db.Batch(ctx, func(b *cachedb.Batch) error {
//	    for _, item := range items {
//	        if err := b.Set(item.Key, item, time.Hour); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//
// If the function returns an error (or panics), nothing is written.
// Buffering takes no lock; only the final commit serializes with other
// writers.
//
// # Errors
//
// Failures are never retried and never swallowed; everything propagates to
// the caller. Sentinels ([ErrEncode], [ErrDecode], [ErrClosed],
// [ErrEmptyKey], [ErrBatchDone]) are matched with errors.Is; underlying
// SQLite errors stay reachable through errors.As on the wrapped chain. A
// decode failure deliberately leaves the row in place so the raw bytes can
// be examined with [DB.GetRaw].
package cachedb
