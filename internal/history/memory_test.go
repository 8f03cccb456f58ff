package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryKV_Lease(t *testing.T) {
	m := NewMemoryKV()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease is taken over")

	require.NoError(t, m.Release(ctx, "k"))
	ok, err = m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
