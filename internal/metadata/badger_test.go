package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *BadgerStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := NewBadgerStore(BadgerOptions{
		DataDir: t.TempDir(),
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRawOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetRaw(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, store.PutRaw(ctx, "acl:object:b:k", []byte("v1")))
		val, err := store.GetRaw(ctx, "acl:object:b:k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), val)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRaw(ctx, "acl:object:b:k"))
		_, err := store.GetRaw(ctx, "acl:object:b:k")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, store.DeleteRaw(ctx, "acl:object:b:k"), ErrNotFound)
	})
}

func TestRawScan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"p:a", "p:b", "p:c", "q:a"} {
		require.NoError(t, store.PutRaw(ctx, k, []byte(k)))
	}

	var keys []string
	require.NoError(t, store.RawScan(ctx, "p:", func(key string, val []byte) bool {
		keys = append(keys, key)
		assert.Equal(t, key, string(val))
		return true
	}))
	assert.Equal(t, []string{"p:a", "p:b", "p:c"}, keys)

	keys = nil
	require.NoError(t, store.RawScan(ctx, "p:", func(key string, _ []byte) bool {
		keys = append(keys, key)
		return false
	}))
	assert.Len(t, keys, 1)
}

func TestPutRawTTL(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRawTTL(ctx, "short", []byte("x"), time.Second))
	_, err := store.GetRaw(ctx, "short")
	require.NoError(t, err)

	// badger TTLs have one-second granularity
	time.Sleep(2100 * time.Millisecond)
	_, err = store.GetRaw(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRawIfAbsent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRawIfAbsent(ctx, "once", []byte("1"), time.Minute))
	assert.ErrorIs(t, store.PutRawIfAbsent(ctx, "once", []byte("2"), time.Minute), ErrKeyExists)

	val, err := store.GetRaw(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)
}

func TestPutRawIfAbsent_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.PutRawIfAbsent(ctx, "race", []byte("x"), time.Minute); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrKeyExists)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestInMemoryStore(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	assert.True(t, store.IsReady())

	require.NoError(t, store.PutRaw(context.Background(), "k", []byte("v")))
	require.NoError(t, store.Close())
	assert.False(t, store.IsReady())
	assert.NoError(t, store.Close())
}

func TestBadgerLogger(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bl := newBadgerLogger(logger)
	bl.Errorf("test error %s", "message")
	bl.Warningf("test warning %s", "message")
	bl.Infof("test info %s", "message")
	bl.Debugf("test debug %s", "message")
}
