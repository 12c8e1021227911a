package cachedb

import (
	"time"

	"github.com/agentuity/cachedb/codec"
	"github.com/agentuity/cachedb/logger"
)

// DefaultSweepInterval is how often the background sweeper removes expired
// rows when no interval is configured.
const DefaultSweepInterval = time.Minute

// DefaultQueryTimeout is the per-operation timeout applied to every store
// access. Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// NoTTL forces an entry to never expire, overriding any default TTL
// configured on the handle with [WithDefaultTTL].
const NoTTL = time.Duration(-1)

// config holds the resolved configuration for a cache handle.
type config struct {
	codec         codec.Codec
	logger        logger.Logger
	namespace     string
	defaultTTL    time.Duration
	sweepInterval time.Duration
	queryTimeout  time.Duration
	temporary     bool
}

// Option configures a cache handle created by [Open].
type Option func(*config)

func defaultConfig() config {
	return config{
		codec:         codec.Msgpack(),
		logger:        logger.Nop(),
		sweepInterval: DefaultSweepInterval,
		queryTimeout:  DefaultQueryTimeout,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithCodec sets the codec used to serialize values. Defaults to
// [codec.Msgpack].
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithLogger sets the logger for the handle. Defaults to [logger.Nop], so
// the library is silent unless the caller opts in.
func WithLogger(l logger.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithNamespace prefixes every key stored through the handle, so multiple
// logical caches can share one backing file without colliding. [DB.Keys]
// and [DB.Len] are restricted to the handle's namespace.
func WithNamespace(ns string) Option {
	return func(cfg *config) { cfg.namespace = ns }
}

// WithDefaultTTL sets the TTL used by Set when the caller passes a zero
// ttl. Without this option a zero ttl means the entry never expires.
// A caller can always force no expiry with [NoTTL].
func WithDefaultTTL(d time.Duration) Option {
	return func(cfg *config) { cfg.defaultTTL = d }
}

// WithSweepInterval sets the interval for the background sweep of expired
// rows. Defaults to [DefaultSweepInterval]. A negative interval disables
// the sweeper entirely; expired entries are then removed lazily on Get.
func WithSweepInterval(d time.Duration) Option {
	return func(cfg *config) { cfg.sweepInterval = d }
}

// WithQueryTimeout sets the per-operation timeout for store access.
// Defaults to [DefaultQueryTimeout].
func WithQueryTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.queryTimeout = d }
}

// WithTemporary marks the backing file as ephemeral: it is removed (along
// with its WAL sidecar files) when the handle is closed or the process
// receives SIGINT or SIGTERM. When combined with an empty path, a uniquely
// named file is created under the system temp directory.
func WithTemporary() Option {
	return func(cfg *config) { cfg.temporary = true }
}
