package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	unlock, ok, err := l.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.TryLock(ctx, "penalties", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys do not block each other")

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))

	_, ok, err = l.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	l := NewRedisLocker(client, "pointmarket:job:")

	unlock, ok, err := l.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("pointmarket:job:fees"))

	other := NewRedisLocker(client, "pointmarket:job:")
	_, ok, err = other.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "another replica must not acquire a held lock")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("pointmarket:job:fees"))
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	l := NewRedisLocker(client, "job:")

	unlock, ok, err := l.TryLock(ctx, "fees", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryLock(ctx, "fees", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, unlock(ctx), ErrLockLost)
	assert.True(t, mr.Exists("job:fees"), "stale owner must not delete the new holder's key")
}

func TestRedisLocker_ConnectionError(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	_, _, err := NewRedisLocker(client, "job:").TryLock(context.Background(), "fees", time.Minute)
	require.Error(t, err)
}

func TestScheduler_AddValidates(t *testing.T) {
	s := New(time.UTC, nil)

	require.Error(t, s.Add(Job{Name: "bad", Spec: "every day", Run: func(context.Context, time.Time) error { return nil }}))
	require.Error(t, s.Add(Job{Spec: "0 0 * * *", Run: func(context.Context, time.Time) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "ok", Spec: "0 0 1 * *", Run: func(context.Context, time.Time) error { return nil }}))
}

func TestScheduler_TriggerPassesLocalTime(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	fixed := time.Date(2025, time.March, 31, 16, 0, 0, 0, time.UTC)
	s := New(loc, nil, WithClock(func() time.Time { return fixed }))

	var got time.Time
	require.NoError(t, s.Add(Job{Name: "fees", Spec: "@monthly", Run: func(_ context.Context, now time.Time) error {
		got = now
		return nil
	}}))

	require.NoError(t, s.Trigger(context.Background(), "fees"))
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, time.April, got.Month())

	require.Error(t, s.Trigger(context.Background(), "missing"))
}

func TestScheduler_TriggerSkipsOverlappingRun(t *testing.T) {
	s := New(time.UTC, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add(Job{Name: "penalties", Spec: "@daily", Run: func(context.Context, time.Time) error {
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "penalties") }()
	<-started

	require.ErrorIs(t, s.Trigger(context.Background(), "penalties"), ErrJobBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestScheduler_TriggerReturnsJobError(t *testing.T) {
	s := New(time.UTC, nil)
	boom := errors.New("boom")
	require.NoError(t, s.Add(Job{Name: "fees", Spec: "@monthly", Run: func(context.Context, time.Time) error { return boom }}))

	require.ErrorIs(t, s.Trigger(context.Background(), "fees"), boom)

	// Блокировка снята и после ошибки.
	require.ErrorIs(t, s.Trigger(context.Background(), "fees"), boom)
}

func TestScheduler_StartRunsJobsUntilCancelled(t *testing.T) {
	s := New(time.UTC, nil)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
