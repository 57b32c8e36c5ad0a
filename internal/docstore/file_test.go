package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "experiences/wylding-woods/state/world.json"

	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, key, []byte(`{"hello":"world"}`)))

	data, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "players/u1/e1/view.json"

	require.NoError(t, store.Save(ctx, key, []byte(`{}`)))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a non-existent key is not an error.
	assert.NoError(t, store.Delete(ctx, key))
}

func TestFileStoreList(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "players/u1/e1/view.json", []byte(`{}`)))
	require.NoError(t, store.Save(ctx, "players/u2/e1/view.json", []byte(`{}`)))
	require.NoError(t, store.Save(ctx, "experiences/e1/state/world.json", []byte(`{}`)))

	keys, err := store.List(ctx, "players/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"players/u1/e1/view.json",
		"players/u2/e1/view.json",
	}, keys)
}

func TestFileStoreLockExcludesConcurrentWriters(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "experiences/e1/state/world.json"

	unlock, err := store.Lock(ctx, key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := store.Lock(ctx, key)
		assert.NoError(t, err)
		close(acquired)
		if u != nil {
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestFileStoreLockRespectsContextCancellation(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	key := "experiences/e1/state/world.json"

	unlock, err := store.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = store.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileStoreConcurrentSavesSerialize(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "experiences/e1/state/world.json"
	require.NoError(t, store.Save(ctx, key, []byte(`0`)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			_ = store.Save(ctx, key, []byte(`1`))
		}()
	}
	wg.Wait()

	data, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}
