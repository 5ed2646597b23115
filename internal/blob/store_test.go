package blob

import (
	"bytes"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "attic/internal/errors"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	store, err := New(db, Options{
		Root:        t.TempDir(),
		CacheSize:   16,
		CompressMin: 64,
	})
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return store, cleanup
}

func TestBlobStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	t.Run("Put and Get round-trip", func(t *testing.T) {
		payload := []byte("function setup() { createCanvas(400, 400); }")
		hash, err := store.Put(payload, "alice")
		require.NoError(t, err)
		assert.Len(t, hash, 64)
		assert.Equal(t, Hash(payload), hash)

		got, err := store.Get(hash)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("Put is idempotent", func(t *testing.T) {
		payload := []byte("let x = 1;")
		first, err := store.Put(payload, "alice")
		require.NoError(t, err)

		second, err := store.Put(payload, "bob")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// The original creator's row survives the duplicate write.
		meta, err := store.Stat(first)
		require.NoError(t, err)
		assert.Equal(t, "alice", meta.CreatorID)
	})

	t.Run("empty payload is valid", func(t *testing.T) {
		hash, err := store.Put(nil, "alice")
		require.NoError(t, err)

		got, err := store.Get(hash)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("large payload is compressed transparently", func(t *testing.T) {
		payload := bytes.Repeat([]byte("background(220);\n"), 200)
		hash, err := store.Put(payload, "alice")
		require.NoError(t, err)

		meta, err := store.Stat(hash)
		require.NoError(t, err)
		assert.True(t, meta.Compressed)
		assert.Equal(t, int64(len(payload)), meta.Size)

		// Bypass the cache to force a disk read and decompression.
		store.cache.Remove(hash)
		got, err := store.Get(hash)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("Get unknown hash", func(t *testing.T) {
		_, err := store.Get(Hash([]byte("never stored")))
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeNotFound))
	})

	t.Run("Get malformed hash", func(t *testing.T) {
		_, err := store.Get("not-a-hash")
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeNotFound))
	})

	t.Run("concurrent writers of the same payload", func(t *testing.T) {
		payload := []byte("for (let i = 0; i < 10; i++) { circle(i, i, 5); }")

		const n = 8
		var wg sync.WaitGroup
		hashes := make([]string, n)
		errors := make([]error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				hashes[i], errors[i] = store.Put(payload, "alice")
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errors[i])
			assert.Equal(t, hashes[0], hashes[i])
		}

		got, err := store.Get(hashes[0])
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("Exists", func(t *testing.T) {
		hash, err := store.Put([]byte("exists"), "alice")
		require.NoError(t, err)

		ok, err := store.Exists(hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(Hash([]byte("missing")))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
