package cachedb

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/agentuity/cachedb/codec"
	"github.com/agentuity/cachedb/logger"
)

var tracer = otel.Tracer("github.com/agentuity/cachedb")

const upsertSQL = `INSERT INTO cache (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`

// Entry is a raw cache row, as stored. Value holds the codec-encoded bytes.
// A zero ExpiresAt means the entry never expires.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// DB is a handle to one cache store. All operations on a handle serialize
// on an internal mutex, so a single handle is safe for concurrent use from
// multiple goroutines. A DB must be closed when no longer needed.
type DB struct {
	store         *store
	codec         codec.Codec
	log           logger.Logger
	namespace     string
	defaultTTL    time.Duration
	sweepInterval time.Duration
	queryTimeout  time.Duration
	temporary     bool
	path          string

	mu        sync.Mutex
	closed    bool
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// Open opens (or creates) a cache database.
//
// An empty path or ":memory:" selects an ephemeral in-memory store. A path
// naming an existing directory places the database at
// <dir>/cachedb.sqlite. Any other path is used as the backing file,
// created along with its parent directories if absent. The schema is
// applied idempotently, so repeated opens of the same file are safe.
//
// The provided context bounds the open itself and is the parent of the
// background sweeper; cancelling it stops the sweeper but does not close
// the handle.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	cfg := applyOptions(opts)

	filePath := ""
	switch {
	case path == "" && cfg.temporary:
		filePath = filepath.Join(os.TempDir(), "cachedb-"+uuid.NewString()+".sqlite")
	case path == "" || path == ":memory:":
		// ephemeral in-memory store
	default:
		filePath = path
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			filePath = filepath.Join(path, "cachedb.sqlite")
		}
	}

	dsn := ":memory:"
	if filePath != "" {
		abs, err := filepath.Abs(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve database path %q", filePath)
		}
		filePath = abs
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
		dsn = filePath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// One connection for the whole handle: the driver gives every
	// connection its own database in ":memory:" mode, and the handle
	// mutex serializes all access anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply %s", pragma)
		}
	}

	st := &store{db: db}
	if err := st.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	childCtx, cancel := context.WithCancel(ctx)

	d := &DB{
		store:         st,
		codec:         cfg.codec,
		log:           cfg.logger.WithPrefix("[cachedb]"),
		namespace:     cfg.namespace,
		defaultTTL:    cfg.defaultTTL,
		sweepInterval: cfg.sweepInterval,
		queryTimeout:  cfg.queryTimeout,
		temporary:     cfg.temporary,
		path:          filePath,
		cancel:        cancel,
	}

	if d.sweepInterval > 0 {
		d.waitGroup.Add(1)
		go d.sweep(childCtx)
	}
	if d.temporary {
		// Not in the wait group: the signal watcher calls Close itself,
		// and Close waits on the group.
		go d.watchSignals(childCtx)
	}

	d.log.Debug("opened cache database at %s (codec=%s)", d.describePath(), d.codec.Name())
	return d, nil
}

// Path returns the backing file path, or an empty string for an in-memory
// store.
func (d *DB) Path() string {
	return d.path
}

// Namespace returns the key namespace configured with [WithNamespace].
func (d *DB) Namespace() string {
	return d.namespace
}

// Get looks up key and decodes the stored value into dest, which must be a
// pointer. It returns false with a nil error on a miss. An entry past its
// TTL is deleted on the spot and reported as a miss. If the stored bytes
// cannot be decoded, Get returns an error matching [ErrDecode] and leaves
// the row intact.
func (d *DB) Get(ctx context.Context, key string, dest any) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ctx, span := tracer.Start(ctx, "Get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	found, err := d.getLocked(ctx, key, dest)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		span.RecordError(err)
	}
	return found, err
}

func (d *DB) getLocked(ctx context.Context, key string, dest any) (bool, error) {
	k := d.storageKey(key)
	var value []byte
	var createdAt int64
	var expiresAt sql.NullInt64
	err := d.store.queryRow(ctx,
		`SELECT value, created_at, expires_at FROM cache WHERE key = ?`, k,
	).Scan(&value, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "query row")
	}

	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixNano() {
		// Lazy expiration: remove the row and report a miss.
		if _, err := d.store.execute(ctx, `DELETE FROM cache WHERE key = ?`, k); err != nil {
			return false, errors.Wrap(err, "delete expired row")
		}
		return false, nil
	}

	if err := d.codec.Unmarshal(value, dest); err != nil {
		return false, errors.Join(ErrDecode, errors.Wrapf(err, "decode value for key %q", key))
	}
	return true, nil
}

// Set encodes value and upserts it under key, replacing any previous entry
// and its TTL. A positive ttl sets the expiry to now+ttl. A zero ttl uses
// the handle's default TTL if one is configured, otherwise the entry never
// expires; [NoTTL] forces no expiry either way. If encoding fails, Set
// returns an error matching [ErrEncode] and the store is untouched.
func (d *DB) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := d.codec.Marshal(value)
	if err != nil {
		return errors.Join(ErrEncode, errors.Wrapf(err, "encode value for key %q", key))
	}
	ctx, span := tracer.Start(ctx, "Set", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	if err := d.setLocked(ctx, key, data, ttl); err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	return nil
}

func (d *DB) setLocked(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := d.store.execute(ctx, upsertSQL,
		d.storageKey(key), data, now.UnixNano(), d.expiresArg(now, ttl))
	return errors.Wrap(err, "upsert row")
}

// expiresArg resolves a ttl to the expires_at column value: a unix-nano
// timestamp, or nil for entries that never expire.
func (d *DB) expiresArg(now time.Time, ttl time.Duration) any {
	if ttl == 0 {
		ttl = d.defaultTTL
	}
	if ttl <= 0 {
		return nil
	}
	return now.Add(ttl).UnixNano()
}

// Delete removes key if present. Deleting an absent key is not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	ctx, span := tracer.Start(ctx, "Delete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	if _, err := d.store.execute(ctx, `DELETE FROM cache WHERE key = ?`, d.storageKey(key)); err != nil {
		err = errors.Wrap(err, "delete row")
		span.SetStatus(otelcodes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	return nil
}

// GetRaw returns the raw row for key, including expired entries and
// entries whose bytes no longer decode. It is the inspection path for
// [ErrDecode] situations and never mutates the store.
func (d *DB) GetRaw(ctx context.Context, key string) (Entry, bool, error) {
	if key == "" {
		return Entry{}, false, ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Entry{}, false, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	var value []byte
	var createdAt int64
	var expiresAt sql.NullInt64
	err := d.store.queryRow(ctx,
		`SELECT value, created_at, expires_at FROM cache WHERE key = ?`, d.storageKey(key),
	).Scan(&value, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "query row")
	}

	e := Entry{Key: key, Value: value, CreatedAt: time.Unix(0, createdAt)}
	if expiresAt.Valid {
		e.ExpiresAt = time.Unix(0, expiresAt.Int64)
	}
	return e, true, nil
}

// Keys returns the live (non-expired) keys in the handle's namespace that
// start with prefix, sorted. An empty prefix returns every live key.
//
// A handle without a namespace sees the whole file, so keys written by
// namespaced handles show up in their stored "<namespace>/<key>" form.
// They cannot be filtered out: "/" is also legal inside ordinary keys.
func (d *DB) Keys(ctx context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	return d.keysLocked(ctx, prefix)
}

func (d *DB) keysLocked(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.store.query(ctx,
		`SELECT key FROM cache WHERE expires_at IS NULL OR expires_at > ? ORDER BY key`,
		time.Now().UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "query keys")
	}
	defer rows.Close()

	nsPrefix := ""
	if d.namespace != "" {
		nsPrefix = d.namespace + "/"
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		if nsPrefix != "" {
			if !strings.HasPrefix(k, nsPrefix) {
				continue
			}
			k = strings.TrimPrefix(k, nsPrefix)
		}
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "iterate keys")
}

// Len returns the number of live entries in the handle's namespace. Like
// [DB.Keys], a handle without a namespace counts every entry in the file,
// including those written through namespaced handles.
func (d *DB) Len(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	keys, err := d.keysLocked(ctx, "")
	return len(keys), err
}

// PurgeExpired removes every expired row across all namespaces and returns
// how many were deleted. Correctness never depends on calling it: Get
// re-checks expiry on every lookup.
func (d *DB) PurgeExpired(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	return d.purgeLocked(ctx)
}

func (d *DB) purgeLocked(ctx context.Context) (int, error) {
	res, err := d.store.execute(ctx,
		`DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "purge expired rows")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count purged rows")
	}
	return int(n), nil
}

// Close shuts down the handle: the sweeper is stopped, the connection is
// closed, and a temporary store's backing files are removed. Close is
// idempotent.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cancel()
		d.waitGroup.Wait()
		err = errors.Wrap(d.store.close(), "close database")
		if d.temporary {
			d.removeBackingFiles()
		}
		d.log.Debug("closed cache database at %s", d.describePath())
	})
	return err
}

func (d *DB) removeBackingFiles() {
	if d.path == "" {
		return
	}
	for _, f := range []string{d.path, d.path + "-wal", d.path + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			d.log.Warn("failed to remove temporary database file %s: %s", f, err)
		}
	}
}

func (d *DB) describePath() string {
	if d.path == "" {
		return ":memory:"
	}
	return d.path
}

func (d *DB) storageKey(key string) string {
	if d.namespace == "" {
		return key
	}
	return d.namespace + "/" + key
}

// sweep periodically purges expired rows. It competes for the handle mutex
// like any other caller.
func (d *DB) sweep(ctx context.Context) {
	defer d.waitGroup.Done()
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return
			}
			opCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
			n, err := d.purgeLocked(opCtx)
			cancel()
			d.mu.Unlock()
			if err != nil {
				d.log.Error("expired entry sweep failed: %s", err)
				continue
			}
			if n > 0 {
				d.log.Debug("swept %d expired entries", n)
			}
		}
	}
}

// watchSignals removes a temporary store's backing files when the process
// is interrupted, then re-raises the signal so the default disposition
// still applies.
func (d *DB) watchSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case <-ctx.Done():
	case sig := <-ch:
		d.log.Debug("received %s, removing temporary cache database", sig)
		d.Close()
		signal.Stop(ch)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			p.Signal(sig)
		}
	}
}

// ParseTTL parses a human-readable TTL such as "90s", "2h30m" or "7d".
// It accepts everything [time.ParseDuration] does plus day and week units.
func ParseTTL(s string) (time.Duration, error) {
	ttl, err := str2duration.ParseDuration(s)
	return ttl, errors.Wrapf(err, "parse ttl %q", s)
}
