package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svgscribe/internal/config"
	"svgscribe/internal/domain"
)

func TestLocalAcquireReleaseAndClose(t *testing.T) {
	g := NewLocal(1)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire success, got %v", err)
	}
	if len(g.sem) != 0 {
		t.Fatalf("expected token consumed after acquire")
	}

	g.Release()
	if len(g.sem) != 1 {
		t.Fatalf("expected token returned after release")
	}

	_ = g.Close()
	if err := g.Acquire(context.Background()); !errors.Is(err, domain.ErrGateClosed) {
		t.Fatalf("expected acquire to fail when gate is closed, got %v", err)
	}
}

func TestLocalAcquireContextCanceled(t *testing.T) {
	g := NewLocal(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestLocalAcquireTimesOutWhenNoCapacity(t *testing.T) {
	g := NewLocal(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire deadline exceeded, got %v", err)
	}
	assert.Equal(t, int64(1), g.Stats().Rejected)
}

func TestLocalCloseWakesWaiters(t *testing.T) {
	g := NewLocal(1)
	require.NoError(t, g.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- g.Acquire(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrGateClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}
}

func TestLocalUnboundedStillCounts(t *testing.T) {
	g := NewLocal(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	st := g.Stats()
	assert.Equal(t, Stats{Backend: "local", Capacity: 0, InUse: 5, Acquired: 5}, st)

	for i := 0; i < 6; i++ {
		g.Release()
	}
	assert.Equal(t, int64(0), g.Stats().InUse, "extra release must not go negative")
}

func TestLocalConcurrentOverReleaseKeepsCount(t *testing.T) {
	g := NewLocal(0)
	const holders = 200

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = g.Acquire(context.Background())
		}()
		go func() {
			defer wg.Done()
			g.Release()
		}()
	}
	wg.Wait()

	// Every release either freed an acquired slot or was a no-op, so the
	// count can never drop below what is still held.
	st := g.Stats()
	assert.GreaterOrEqual(t, st.InUse, int64(0))
	assert.LessOrEqual(t, st.InUse, int64(holders))
	for i := 0; i < holders; i++ {
		g.Release()
	}
	assert.Equal(t, int64(0), g.Stats().InUse)
}

func TestLocalReleaseWithoutAcquireDoesNotFreeExtraToken(t *testing.T) {
	g := NewLocal(1)
	g.Release()
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), g.Stats().InUse)
}

func TestLocalStats(t *testing.T) {
	g := NewLocal(2)
	st := g.Stats()
	if st.Capacity != 2 || st.InUse != 0 {
		t.Fatalf("unexpected stats before acquire: %+v", st)
	}
	require.NoError(t, g.Acquire(context.Background()))
	if st = g.Stats(); st.InUse != 1 || st.Acquired != 1 {
		t.Fatalf("expected one in use, got %+v", st)
	}
	g.Release()
	if st = g.Stats(); st.InUse != 0 {
		t.Fatalf("expected none in use after release, got %+v", st)
	}
}

func newRedisGate(t *testing.T, capacity int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test:sessions", capacity, time.Minute, 5*time.Millisecond), mr
}

func TestRedisAcquireRespectsCapacity(t *testing.T) {
	g, mr := newRedisGate(t, 2)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	members, err := mr.ZMembers("test:sessions")
	require.NoError(t, err)
	assert.Len(t, members, 2, "one lease per holder")
	assert.True(t, mr.TTL("test:sessions") > 0, "acquire must set a ttl")

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(short), context.DeadlineExceeded)

	st := g.Stats()
	assert.Equal(t, "redis", st.Backend)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, int64(2), st.InUse)
	assert.Equal(t, int64(2), st.Acquired)
	assert.Equal(t, int64(1), st.Rejected)
}

func TestRedisCrashedHolderSlotExpiresUnderSteadyTraffic(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	const ttl = time.Minute
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time { return clock }

	crashed := NewRedis(client, "test:sessions", 2, ttl, 5*time.Millisecond)
	crashed.now = now
	require.NoError(t, crashed.Acquire(context.Background()))
	// crashed never releases.

	g := NewRedis(client, "test:sessions", 2, ttl, 5*time.Millisecond)
	g.now = now
	for i := 0; i < 10; i++ {
		clock = clock.Add(ttl / 2)
		mr.FastForward(ttl / 2)
		require.NoError(t, g.Acquire(context.Background()))
		g.Release()
	}

	assert.Equal(t, int64(0), g.Stats().InUse, "the crashed lease must have expired")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx), "full capacity must be available again")
}

func TestRedisReleaseFreesSlotForWaiter(t *testing.T) {
	g, _ := newRedisGate(t, 1)
	require.NoError(t, g.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errCh <- g.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Release()
	require.NoError(t, <-errCh)
}

func TestRedisReleaseNeverGoesNegative(t *testing.T) {
	g, _ := newRedisGate(t, 1)
	g.Release()
	g.Release()
	assert.Equal(t, int64(0), g.Stats().InUse)

	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
	g.Release()
	assert.Equal(t, int64(0), g.Stats().InUse)

	require.NoError(t, g.Acquire(context.Background()))
	assert.Equal(t, int64(1), g.Stats().InUse, "an extra release must not free a later lease")
}

func TestRedisUnboundedAndClosed(t *testing.T) {
	g, _ := newRedisGate(t, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	assert.Equal(t, int64(3), g.Stats().InUse)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.ErrorIs(t, g.Acquire(context.Background()), domain.ErrGateClosed)
}

func TestRedisAcquireFailsWhenServerDown(t *testing.T) {
	g, mr := newRedisGate(t, 1)
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, g.Acquire(ctx))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	g, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", g.Stats().Backend)
	assert.Equal(t, 2, g.Stats().Capacity)

	cfg.Browser.GateBackend = "redis"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	g, err = FromConfig(cfg, client)
	require.NoError(t, err)
	assert.Equal(t, "redis", g.Stats().Backend)

	cfg.Browser.GateBackend = "etcd"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
