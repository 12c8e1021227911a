package cachedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// batchOp is one buffered write. Keys are stored fully namespaced and
// values already encoded; the expiry is resolved at commit time.
type batchOp struct {
	key    string
	value  []byte
	ttl    time.Duration
	delete bool
}

// Batch buffers writes in memory and applies them in one transaction.
// Buffered operations are invisible to readers until Commit, and a batch
// that is discarded (or whose commit fails) leaves the store untouched.
//
// A Batch is not safe for concurrent use; it belongs to the goroutine that
// created it. Buffering takes no lock — only Commit serializes on the
// handle mutex, like any other write.
type Batch struct {
	db   *DB
	ops  []batchOp
	done bool
}

// NewBatch returns an empty batch bound to the handle. Most callers should
// prefer the scoped [DB.Batch] form, which commits and discards
// automatically.
func (d *DB) NewBatch() *Batch {
	return &Batch{db: d}
}

// Batch runs fn with a fresh batch and commits it if fn returns nil. If fn
// returns an error or panics, the batch is discarded and nothing is
// written.
func (d *DB) Batch(ctx context.Context, fn func(b *Batch) error) error {
	b := d.NewBatch()
	defer b.Discard()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(ctx)
}

// Set buffers an upsert of key. The value is encoded immediately, so an
// unencodable value surfaces here (matching [ErrEncode]) and leaves the
// batch usable; the entry's expiry is computed from ttl when the batch
// commits. TTL semantics match [DB.Set].
func (b *Batch) Set(key string, value any, ttl time.Duration) error {
	if b.done {
		return ErrBatchDone
	}
	if key == "" {
		return ErrEmptyKey
	}
	data, err := b.db.codec.Marshal(value)
	if err != nil {
		return errors.Join(ErrEncode, errors.Wrapf(err, "encode value for key %q", key))
	}
	b.ops = append(b.ops, batchOp{key: b.db.storageKey(key), value: data, ttl: ttl})
	return nil
}

// Delete buffers a removal of key.
func (b *Batch) Delete(key string) error {
	if b.done {
		return ErrBatchDone
	}
	if key == "" {
		return ErrEmptyKey
	}
	b.ops = append(b.ops, batchOp{key: b.db.storageKey(key), delete: true})
	return nil
}

// Len returns the number of buffered operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit applies every buffered operation inside one transaction: either
// all of them take effect or none do. The batch cannot be reused
// afterwards.
func (b *Batch) Commit(ctx context.Context) error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true
	if len(b.ops) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Batch.Commit", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d := b.db
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	now := time.Now()
	err := d.store.transaction(ctx, func(tx *sql.Tx) error {
		for _, op := range b.ops {
			if op.delete {
				if _, err := tx.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, op.key); err != nil {
					return errors.Wrap(err, "batch delete")
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, upsertSQL,
				op.key, op.value, now.UnixNano(), d.expiresArg(now, op.ttl)); err != nil {
				return errors.Wrap(err, "batch upsert")
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	return nil
}

// Discard drops every buffered operation without touching the store. It is
// a no-op on a batch that has already been committed or discarded.
func (b *Batch) Discard() {
	b.done = true
	b.ops = nil
}
