package cachedb

import "github.com/cockroachdb/errors"

var (
	// ErrEncode is reported when a value cannot be serialized by the
	// configured codec. The store is never modified when encoding fails.
	ErrEncode = errors.New("cachedb: value cannot be encoded")

	// ErrDecode is reported when stored bytes cannot be decoded on Get.
	// The row is left intact so it can be inspected with [DB.GetRaw] or
	// recovered manually.
	ErrDecode = errors.New("cachedb: stored value cannot be decoded")

	// ErrClosed is reported by any operation on a closed handle.
	ErrClosed = errors.New("cachedb: database is closed")

	// ErrEmptyKey is reported when an operation is given an empty key.
	ErrEmptyKey = errors.New("cachedb: key must not be empty")

	// ErrBatchDone is reported when a batch is used after it has been
	// committed or discarded.
	ErrBatchDone = errors.New("cachedb: batch already committed or discarded")
)
