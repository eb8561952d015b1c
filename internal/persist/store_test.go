package persist

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "cart-storage", []byte("v1"), 0))
	got, err := store.Get(ctx, "cart-storage")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))

	got[0] = 'X'
	again, err := store.Get(ctx, "cart-storage")
	require.NoError(t, err)
	require.Equal(t, "v1", string(again), "Get must hand out copies")

	require.NoError(t, store.Delete(ctx, "cart-storage"))
	require.NoError(t, store.Delete(ctx, "cart-storage"), "delete is idempotent")
	_, err = store.Get(ctx, "cart-storage")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreTTLExpiresAndNotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "device_sync:1", []byte("env"), 20*time.Millisecond))

	first := <-changes
	require.Equal(t, Change{Key: "device_sync:1", Value: []byte("env")}, first)

	select {
	case removed := <-changes:
		require.Equal(t, Change{Key: "device_sync:1", Deleted: true}, removed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry notification")
	}
	_, err = store.Get(ctx, "device_sync:1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Hour))
	now = now.Add(2 * time.Hour)
	_, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreWatchClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	changes, err := store.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-changes:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel did not close")
	}
	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), 0))
}

func TestMemoryStoreWatchKeepsNewestValueWhenReaderLags(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	for i := 1; i <= 300; i++ {
		require.NoError(t, store.Set(ctx, "cart-storage", []byte(strconv.Itoa(i)), 0))
	}
	require.NoError(t, store.Set(ctx, "wishlist-storage", []byte("w"), 0))

	var cartValues []string
	sawWishlist := false
	deadline := time.After(2 * time.Second)
	for !sawWishlist || len(cartValues) == 0 || cartValues[len(cartValues)-1] != "300" {
		select {
		case change := <-changes:
			switch change.Key {
			case "cart-storage":
				cartValues = append(cartValues, string(change.Value))
			case "wishlist-storage":
				sawWishlist = true
			}
		case <-deadline:
			t.Fatalf("latest cart value never delivered, got %v", cartValues)
		}
	}
	require.LessOrEqual(t, len(cartValues), 2, "queued writes to one key collapse into the newest")
}
