package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Get(ctx, "cart-storage")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "cart-storage", []byte(`{"version":1}`), 0))
	got, err := store.Get(ctx, "cart-storage")
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1}`, string(got))

	require.NoError(t, store.Delete(ctx, "cart-storage"))
	require.NoError(t, store.Delete(ctx, "cart-storage"))
	_, err = store.Get(ctx, "cart-storage")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreKeysAreEscaped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "device_sync:1/2", []byte("x"), 0))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	key, ok := keyFromPath(filepath.Join(dir, entries[0].Name()))
	require.True(t, ok)
	require.Equal(t, "device_sync:1/2", key)

	_, ok = keyFromPath(filepath.Join(dir, ".cart.json-123.tmp"))
	require.False(t, ok)
}

func TestFileStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "device_sync:9", []byte("env"), 30*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "device_sync:9")
		return err == ErrNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileStoreWatchSeesOtherWriters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	reader, err := NewFileStore(dir)
	require.NoError(t, err)
	writer, err := NewFileStore(dir)
	require.NoError(t, err)

	changes, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.Set(ctx, "cart-storage", []byte("snapshot"), 0))
	waitForChange(t, changes, func(c Change) bool {
		return c.Key == "cart-storage" && !c.Deleted && string(c.Value) == "snapshot"
	})

	require.NoError(t, writer.Delete(ctx, "cart-storage"))
	waitForChange(t, changes, func(c Change) bool {
		return c.Key == "cart-storage" && c.Deleted
	})
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore("  ")
	require.Error(t, err)
}

func waitForChange(t *testing.T, changes <-chan Change, match func(Change) bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c, ok := <-changes:
			require.True(t, ok, "watch channel closed")
			if match(c) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for change")
		}
	}
}
