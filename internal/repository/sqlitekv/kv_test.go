package sqlitekv

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ivf-chat/internal/domain"
	"ivf-chat/internal/history"
)

func openTemp(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)
}

func TestKV_GetPutDelete(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	_, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, kv.Put(ctx, "k", "one"))
	require.NoError(t, kv.Put(ctx, "k", "two"))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "two", v)

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, found, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKV_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	kv, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), "k", "v"))
	require.NoError(t, kv.Close())

	kv, err = Open(path)
	require.NoError(t, err)
	defer kv.Close()
	v, found, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", v)
}

func TestKV_BacksHistoryStore(t *testing.T) {
	kv := openTemp(t)
	store, err := history.New(kv, history.SessionKey("s1"))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		store.Append(ctx, domain.ChatTurn{
			UserMessage: fmt.Sprintf("q%d", i),
			BotResponse: "a",
			Timestamp:   time.Now().UTC(),
		})
	}
	turns := store.Load(ctx)
	require.Len(t, turns, history.DefaultLimit)
	require.Equal(t, "q5", turns[0].UserMessage)

	require.NoError(t, kv.Put(ctx, history.SessionKey("s1"), "not json"))
	require.Empty(t, store.Load(ctx))
}

func TestKV_Lease(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	ok, err := kv.Acquire(ctx, "ivf_chat_inflight#s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.Acquire(ctx, "ivf_chat_inflight#s1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "lease is held")

	ok, err = kv.Acquire(ctx, "ivf_chat_inflight#s2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "leases are per key")

	require.NoError(t, kv.Release(ctx, "ivf_chat_inflight#s1"))
	ok, err = kv.Acquire(ctx, "ivf_chat_inflight#s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKV_LeaseExpires(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	ok, err := kv.Acquire(ctx, "k", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lease can be taken over")
}
