package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"svgscribe/internal/domain"
)

// Local is an in-process semaphore.
type Local struct {
	sem  chan struct{} // nil when unbounded
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	inUse    atomic.Int64
	acquired atomic.Int64
	rejected atomic.Int64
}

// NewLocal returns a gate admitting capacity holders. capacity <= 0 admits
// everyone but still counts them.
func NewLocal(capacity int) *Local {
	l := &Local{done: make(chan struct{})}
	if capacity > 0 {
		l.sem = make(chan struct{}, capacity)
		for i := 0; i < capacity; i++ {
			l.sem <- struct{}{}
		}
	}
	return l
}

func (l *Local) Acquire(ctx context.Context) error {
	if l.closed.Load() {
		l.rejected.Add(1)
		return domain.ErrGateClosed
	}
	if l.sem != nil {
		select {
		case <-l.sem:
		case <-l.done:
			l.rejected.Add(1)
			return domain.ErrGateClosed
		case <-ctx.Done():
			l.rejected.Add(1)
			return ctx.Err()
		}
	}
	l.inUse.Add(1)
	l.acquired.Add(1)
	return nil
}

// Release frees one slot. Releasing with nothing held is a no-op.
func (l *Local) Release() {
	for {
		n := l.inUse.Load()
		if n <= 0 {
			return
		}
		if l.inUse.CompareAndSwap(n, n-1) {
			break
		}
	}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		default:
		}
	}
}

func (l *Local) Stats() Stats {
	return Stats{
		Backend:  "local",
		Capacity: cap(l.sem),
		InUse:    l.inUse.Load(),
		Acquired: l.acquired.Load(),
		Rejected: l.rejected.Load(),
	}
}

// Close wakes every waiter with ErrGateClosed. Holders may still Release.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
	return nil
}
