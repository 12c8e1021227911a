package cachedb

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/agentuity/cachedb/codec"
	"github.com/agentuity/cachedb/logger"
)

type record struct {
	Name  string
	Count int
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	assert.Equal(t, "", db.Path())
	assert.NoError(t, db.Close())
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cache.sqlite")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, filepath.Join(dir, "cachedb.sqlite"), db.Path())
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.sqlite")
	ctx := context.Background()

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "k", "v", 0))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var got string
	found, err := db.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	// Miss on empty cache.
	var got record
	found, err := db.Get(ctx, "user", &got)
	assert.NoError(t, err)
	assert.False(t, found)

	want := record{Name: "ada", Count: 3}
	assert.NoError(t, db.Set(ctx, "user", want, 0))

	found, err = db.Get(ctx, "user", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Set(ctx, "k", "first", time.Hour))
	assert.NoError(t, db.Set(ctx, "k", "second", 0))

	var got string
	found, err := db.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "second", got)

	// The second Set also replaced the TTL: the entry no longer expires.
	entry, found, err := db.GetRaw(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.True(t, entry.ExpiresAt.IsZero())
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithSweepInterval(-1))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Set(ctx, "k", "v", 50*time.Millisecond))

	var got string
	found, err := db.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(100 * time.Millisecond)

	found, err = db.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.False(t, found)

	// The lazy delete removed the row, not just hid it.
	_, found, err = db.GetRaw(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestNoTTLPersists(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Set(ctx, "k", "v", 0))
	time.Sleep(50 * time.Millisecond)

	var got string
	found, err := db.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)
}

func TestDefaultTTL(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithDefaultTTL(50*time.Millisecond), WithSweepInterval(-1))
	require.NoError(t, err)
	defer db.Close()

	// Zero ttl picks up the handle default; NoTTL opts out of it.
	assert.NoError(t, db.Set(ctx, "expiring", "v", 0))
	assert.NoError(t, db.Set(ctx, "pinned", "v", NoTTL))

	time.Sleep(100 * time.Millisecond)

	var got string
	found, err := db.Get(ctx, "expiring", &got)
	assert.NoError(t, err)
	assert.False(t, found)

	found, err = db.Get(ctx, "pinned", &got)
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Set(ctx, "k", "v", 0))
	assert.NoError(t, db.Delete(ctx, "k"))
	assert.NoError(t, db.Delete(ctx, "k"))
	assert.NoError(t, db.Delete(ctx, "never-existed"))

	n, err := db.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.ErrorIs(t, db.Set(ctx, "", "v", 0), ErrEmptyKey)
	var got string
	_, err = db.Get(ctx, "", &got)
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, db.Delete(ctx, ""), ErrEmptyKey)
}

func TestEncodeFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = db.Set(ctx, "bad", func() {}, 0)
	assert.ErrorIs(t, err, ErrEncode)

	n, err := db.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

// corruptCodec writes values that can never be read back.
type corruptCodec struct{ codec.Codec }

func (corruptCodec) Unmarshal([]byte, any) error {
	return errors.New("boom")
}

func TestDecodeFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithCodec(corruptCodec{codec.Msgpack()}))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set(ctx, "k", "v", 0))

	var got string
	_, err = db.Get(ctx, "k", &got)
	assert.ErrorIs(t, err, ErrDecode)

	// The row survives for inspection.
	entry, found, err := db.GetRaw(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "k", entry.Key)
	assert.NotEmpty(t, entry.Value)
	assert.False(t, entry.CreatedAt.IsZero())
}

// Sentinels must sit in the unwrap chain itself, so consumers that only
// use the standard library can match them.
func TestSentinelsMatchWithStdlibErrors(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithCodec(corruptCodec{codec.Msgpack()}))
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, stderrors.Is(db.Set(ctx, "bad", func() {}, 0), ErrEncode))

	require.NoError(t, db.Set(ctx, "k", "v", 0))
	var got string
	_, err = db.Get(ctx, "k", &got)
	assert.True(t, stderrors.Is(err, ErrDecode))
	// The codec's own failure stays reachable too.
	assert.Contains(t, err.Error(), "boom")

	b := db.NewBatch()
	assert.True(t, stderrors.Is(b.Set("bad", func() {}, 0), ErrEncode))
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithSweepInterval(-1))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Set(ctx, fmt.Sprintf("stale-%d", i), i, 10*time.Millisecond))
	}
	require.NoError(t, db.Set(ctx, "live", "v", time.Hour))

	time.Sleep(50 * time.Millisecond)

	n, err := db.PurgeExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	keys, err := db.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"live"}, keys)

	// Nothing left to purge.
	n, err = db.PurgeExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	db, err := Open(ctx, ":memory:", WithSweepInterval(50*time.Millisecond), WithLogger(log))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set(ctx, "k", "v", 30*time.Millisecond))

	time.Sleep(150 * time.Millisecond)

	// The sweeper removed the row without any Get driving the expiry.
	_, found, err := db.GetRaw(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.True(t, log.Contains("swept 1 expired entries"))
}

func TestKeysPrefixAndSorting(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, k := range []string{"user/2", "user/1", "session/9"} {
		require.NoError(t, db.Set(ctx, k, "v", 0))
	}
	require.NoError(t, db.Set(ctx, "user/3", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	keys, err := db.Keys(ctx, "user/")
	assert.NoError(t, err)
	assert.Equal(t, []string{"user/1", "user/2"}, keys)

	keys, err = db.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"session/9", "user/1", "user/2"}, keys)
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite")

	a, err := Open(ctx, path, WithNamespace("a"))
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", "from-a", 0))
	require.NoError(t, a.Close())

	b, err := Open(ctx, path, WithNamespace("b"))
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Set(ctx, "k", "from-b", 0))

	var got string
	found, err := b.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-b", got)

	keys, err := b.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	n, err := b.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	// The other namespace's entry is still there under its own handle.
	a, err = Open(ctx, path, WithNamespace("a"))
	require.NoError(t, err)
	defer a.Close()
	found, err = a.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-a", got)
}

func TestNoNamespaceSeesWholeFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite")

	a, err := Open(ctx, path, WithNamespace("jobs"))
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", "v", 0))
	require.NoError(t, a.Close())

	// A namespace-less handle is a view over the whole file: namespaced
	// entries appear in their stored form.
	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Set(ctx, "plain", "v", 0))

	keys, err := db.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"jobs/k", "plain"}, keys)

	n, err := db.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	const writers = 32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			return db.Set(ctx, fmt.Sprintf("key-%d", i), i, 0)
		})
	}
	require.NoError(t, g.Wait())

	n, err := db.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, writers, n)

	for i := 0; i < writers; i++ {
		var got int
		found, err := db.Get(ctx, fmt.Sprintf("key-%d", i), &got)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, i, got)
	}
}

func TestTemporaryRemovedOnClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite")

	db, err := Open(ctx, path, WithTemporary())
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "k", "v", 0))
	require.NoError(t, db.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err))
}

func TestTemporaryWithoutPath(t *testing.T) {
	db, err := Open(context.Background(), "", WithTemporary())
	require.NoError(t, err)

	path := db.Path()
	require.NotEmpty(t, path)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	require.NoError(t, db.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClosedHandle(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close()) // idempotent

	var got string
	_, err = db.Get(ctx, "k", &got)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, db.Delete(ctx, "k"), ErrClosed)
	_, err = db.PurgeExpired(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEntryExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Entry{}.Expired(now))
	assert.True(t, Entry{ExpiresAt: now.Add(-time.Second)}.Expired(now))
	assert.True(t, Entry{ExpiresAt: now}.Expired(now))
	assert.False(t, Entry{ExpiresAt: now.Add(time.Second)}.Expired(now))
}

func TestParseTTL(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"2h30m", 2*time.Hour + 30*time.Minute},
		{"7d", 7 * 24 * time.Hour},
	} {
		got, err := ParseTTL(tc.in)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseTTL("not-a-duration")
	assert.Error(t, err)
}
