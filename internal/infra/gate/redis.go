package gate

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"svgscribe/internal/domain"
	"svgscribe/internal/infra/logging"
)

// acquireScript keeps one sorted-set member per holder, scored by its expiry
// in unix milliseconds. Expired holders are dropped before counting, so a
// crashed holder frees its slot once its own lease ends regardless of other
// traffic. ARGV: limit (negative means none), token, now, expiry, key ttl.
// It returns 1 when admitted and 0 when full.
var acquireScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
local limit = tonumber(ARGV[1])
if limit >= 0 and redis.call("ZCARD", KEYS[1]) >= limit then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Redis is a counting semaphore shared by every instance using the same key.
type Redis struct {
	client   *redis.Client
	key      string
	capacity int
	ttl      time.Duration
	poll     time.Duration
	now      func() time.Time

	mu   sync.Mutex
	held []string

	done   chan struct{}
	closed atomic.Bool

	acquired atomic.Int64
	rejected atomic.Int64
}

// NewRedis returns a gate whose holders each lease a slot for ttl. ttl must
// exceed the longest time a holder keeps its slot.
func NewRedis(client *redis.Client, key string, capacity int, ttl, poll time.Duration) *Redis {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{
		client:   client,
		key:      key,
		capacity: capacity,
		ttl:      ttl,
		poll:     poll,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (r *Redis) limit() int {
	if r.capacity <= 0 {
		return -1
	}
	return r.capacity
}

func (r *Redis) tryAcquire(ctx context.Context) (bool, error) {
	token := xid.New().String()
	now := r.now().UnixMilli()
	n, err := acquireScript.Run(ctx, r.client, []string{r.key},
		r.limit(), token, now, now+r.ttl.Milliseconds(), r.ttl.Milliseconds()).Int64()
	if err != nil || n == 0 {
		return false, err
	}
	r.mu.Lock()
	r.held = append(r.held, token)
	r.mu.Unlock()
	return true, nil
}

// Acquire polls until a slot frees up, ctx ends or the gate closes.
func (r *Redis) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		if r.closed.Load() {
			r.rejected.Add(1)
			return domain.ErrGateClosed
		}
		ok, err := r.tryAcquire(ctx)
		if err != nil {
			r.rejected.Add(1)
			return err
		}
		if ok {
			r.acquired.Add(1)
			return nil
		}
		select {
		case <-ticker.C:
		case <-r.done:
		case <-ctx.Done():
			r.rejected.Add(1)
			return ctx.Err()
		}
	}
}

// Release removes one lease held by this process. Releasing with nothing
// held is a no-op.
func (r *Redis) Release() {
	r.mu.Lock()
	if len(r.held) == 0 {
		r.mu.Unlock()
		return
	}
	token := r.held[len(r.held)-1]
	r.held = r.held[:len(r.held)-1]
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZRem(ctx, r.key, token).Err(); err != nil {
		logging.Warn("gate release failed", "key", r.key, "error", err)
	}
}

func (r *Redis) Stats() Stats {
	st := Stats{
		Backend:  "redis",
		Capacity: r.capacity,
		Acquired: r.acquired.Load(),
		Rejected: r.rejected.Load(),
	}
	if st.Capacity < 0 {
		st.Capacity = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	live := "(" + strconv.FormatInt(r.now().UnixMilli(), 10)
	if n, err := r.client.ZCount(ctx, r.key, live, "+inf").Result(); err == nil {
		st.InUse = n
	}
	return st
}

// Close stops admitting. The client is owned by the caller.
func (r *Redis) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
	return nil
}
