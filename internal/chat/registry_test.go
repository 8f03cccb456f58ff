package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ivf-chat/internal/history"
)

func newTestRegistry(t *testing.T, r Responder, opts ...RegistryOption) *Registry {
	t.Helper()
	return newSharedRegistry(t, history.NewMemoryKV(), r, opts...)
}

// newSharedRegistry builds a registry whose sessions keep history and
// in-flight leases in kv, as separate processes sharing one table do.
func newSharedRegistry(t *testing.T, kv *history.MemoryKV, r Responder, opts ...RegistryOption) *Registry {
	t.Helper()
	reg, err := NewRegistry(func(id string) (*Session, error) {
		store, err := history.New(kv, history.SessionKey(id), history.WithLogger(quietLogger()))
		if err != nil {
			return nil, err
		}
		return NewSession(id, r, store, Bindings{Logger: quietLogger()}, WithLease(kv, time.Minute))
	}, opts...)
	require.NoError(t, err)
	return reg
}

func TestNewRegistry_NilFactory(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	reg := newTestRegistry(t, &stubResponder{reply: "ok"})
	ctx := context.Background()

	a, err := reg.Get(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, a.Messages(), 1, "new sessions are greeted")

	b, err := reg.Get(ctx, " abc ")
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, reg.Len())

	_, err = reg.Get(ctx, "")
	require.Error(t, err)
}

func TestRegistry_SessionsShareDurableStoreByKey(t *testing.T) {
	reg := newTestRegistry(t, &stubResponder{reply: "ok"})
	ctx := context.Background()

	a, err := reg.Get(ctx, "abc")
	require.NoError(t, err)
	a.Send(ctx, "hi")

	reg.Drop("abc")
	require.Equal(t, OutcomeIgnoredClosed, a.Send(ctx, "again").Outcome)
	require.Zero(t, reg.Len())

	b, err := reg.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Len(t, b.History(ctx), 1)
	require.Len(t, b.Messages(), 1)

	other, err := reg.Get(ctx, "xyz")
	require.NoError(t, err)
	require.Empty(t, other.History(ctx))
}

func TestRegistry_FactoryError(t *testing.T) {
	reg, err := NewRegistry(func(string) (*Session, error) { return nil, errors.New("boom") })
	require.NoError(t, err)
	_, err = reg.Get(context.Background(), "abc")
	require.Error(t, err)
	require.Zero(t, reg.Len())
}

func TestRegistry_DropUnknownIsNoop(t *testing.T) {
	reg := newTestRegistry(t, &stubResponder{})
	require.NotPanics(t, func() { reg.Drop("missing") })
}

func TestRegistry_SharedLeaseAcrossProcesses(t *testing.T) {
	kv := history.NewMemoryKV()
	r := &blockingResponder{started: make(chan struct{}, 1), release: make(chan struct{})}
	first := newSharedRegistry(t, kv, r)
	second := newSharedRegistry(t, kv, r)
	ctx := context.Background()

	a, err := first.Get(ctx, "abc")
	require.NoError(t, err)
	b, err := second.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotSame(t, a, b)

	done := make(chan SendResult, 1)
	go func() { done <- a.Send(ctx, "first") }()
	<-r.started

	res := b.Send(ctx, "second")
	require.Equal(t, OutcomeIgnoredBusy, res.Outcome)
	require.Empty(t, res.Rendered)

	close(r.release)
	require.Equal(t, OutcomeReplied, (<-done).Outcome)
	r.mu.Lock()
	require.Equal(t, 1, r.calls)
	r.mu.Unlock()

	r.release = make(chan struct{})
	close(r.release)
	require.Equal(t, OutcomeReplied, b.Send(ctx, "third").Outcome)
	require.Len(t, b.History(ctx), 2)
}

func TestRegistry_EvictsIdleSessions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &stubResponder{reply: "ok"},
		WithIdleTTL(10*time.Minute),
		WithRegistryClock(func() time.Time { return now }))
	ctx := context.Background()

	old, err := reg.Get(ctx, "old")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	_, err = reg.Get(ctx, "recent")
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	now = now.Add(6 * time.Minute)
	_, err = reg.Get(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())
	require.Equal(t, OutcomeIgnoredClosed, old.Send(ctx, "hi").Outcome)

	again, err := reg.Get(ctx, "old")
	require.NoError(t, err)
	require.NotSame(t, old, again)
}

func TestRegistry_EvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &stubResponder{reply: "ok"},
		WithMaxSessions(2),
		WithRegistryClock(func() time.Time { return now }))
	ctx := context.Background()

	a, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	now = now.Add(time.Second)
	b, err := reg.Get(ctx, "b")
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = reg.Get(ctx, "a")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = reg.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())
	require.Equal(t, OutcomeIgnoredClosed, b.Send(ctx, "hi").Outcome)
	require.Equal(t, OutcomeReplied, a.Send(ctx, "hi").Outcome)
}

func TestRegistry_KeepsSessionWithSendInFlight(t *testing.T) {
	r := &blockingResponder{started: make(chan struct{}, 1), release: make(chan struct{})}
	reg := newTestRegistry(t, r, WithMaxSessions(1))
	ctx := context.Background()

	busy, err := reg.Get(ctx, "busy")
	require.NoError(t, err)
	done := make(chan SendResult, 1)
	go func() { done <- busy.Send(ctx, "hello") }()
	<-r.started

	_, err = reg.Get(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	close(r.release)
	require.Equal(t, OutcomeReplied, (<-done).Outcome)
}

func TestRegistry_ConcurrentGetReturnsOneSession(t *testing.T) {
	reg := newTestRegistry(t, &stubResponder{reply: "ok"})
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Get(ctx, "same")
			if err == nil {
				got[i] = s
			}
		}(i)
	}
	wg.Wait()
	for _, s := range got {
		require.Same(t, got[0], s)
	}
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_ManySessionsStayCapped(t *testing.T) {
	reg := newTestRegistry(t, &stubResponder{reply: "ok"}, WithMaxSessions(5))
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := reg.Get(ctx, fmt.Sprintf("visitor-%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 5, reg.Len())
}
