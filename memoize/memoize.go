// Package memoize caches function results in a [cachedb.DB].
//
// [Func] wraps a one-argument function so repeated calls with the same
// argument hit the cache instead of recomputing. The cache key is derived
// from a caller-supplied stable name plus a hash of the argument (see
// [Key]); both must be deterministic, so the argument type has to be
// msgpack-encodable. Concurrent calls with the same key collapse to a
// single execution within the process.
//
// [Do] is the one-shot form for callers that already have a key in hand.
package memoize

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentuity/cachedb/cachedb"
)

// KeyFunc derives a cache key from the call argument. The returned key is
// scoped under the wrapped function's name, so two functions with
// identical arguments never collide.
type KeyFunc func(args any) (string, error)

type config struct {
	ttl   time.Duration
	keyFn KeyFunc
}

// Option configures a wrapper produced by [Func].
type Option func(*config)

// WithTTL sets the TTL for cached results. TTL semantics match
// [cachedb.DB.Set]: zero defers to the handle's default, negative means
// never expire.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithKeyFunc overrides the default argument hashing with a custom key
// derivation. Useful when only part of the argument identifies the call,
// or when keys must stay human readable.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *config) { c.keyFn = fn }
}

func (c config) deriveKey(name string, args any) (string, error) {
	if c.keyFn != nil {
		k, err := c.keyFn(args)
		if err != nil {
			return "", err
		}
		return "memo/" + name + "/" + k, nil
	}
	return Key(name, args)
}

// Func wraps fn with memoization over db. name must be stable across
// processes (it is part of every cache key); the function's package-
// qualified name is a good choice.
//
// On each call the key is derived first — an argument the codec cannot
// encode surfaces as [ErrUnhashable] and fn is never invoked. A cache hit
// returns the stored result. On a miss fn runs, its result is stored with
// the configured TTL, and the result is returned. Errors from fn are
// propagated and never cached. Concurrent calls that derive the same key
// share one execution (process-local singleflight).
func Func[A, R any](db *cachedb.DB, name string, fn func(ctx context.Context, arg A) (R, error), opts ...Option) func(context.Context, A) (R, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	var group singleflight.Group

	return func(ctx context.Context, arg A) (R, error) {
		var zero R
		key, err := cfg.deriveKey(name, arg)
		if err != nil {
			return zero, err
		}
		v, err, _ := group.Do(key, func() (any, error) {
			var result R
			found, err := db.Get(ctx, key, &result)
			if err != nil {
				return nil, err
			}
			if found {
				return result, nil
			}
			result, err = fn(ctx, arg)
			if err != nil {
				return nil, err
			}
			if err := db.Set(ctx, key, result, cfg.ttl); err != nil {
				return nil, err
			}
			return result, nil
		})
		if err != nil {
			return zero, err
		}
		return v.(R), nil
	}
}

// Do is a one-shot cache-aside lookup: it returns the cached value for key
// if present, otherwise runs fn, stores its result with ttl, and returns
// it. Errors from fn are propagated and never cached.
func Do[R any](ctx context.Context, db *cachedb.DB, key string, ttl time.Duration, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	var result R
	found, err := db.Get(ctx, key, &result)
	if err != nil {
		return zero, err
	}
	if found {
		return result, nil
	}
	result, err = fn(ctx)
	if err != nil {
		return zero, err
	}
	if err := db.Set(ctx, key, result, ttl); err != nil {
		return zero, err
	}
	return result, nil
}
