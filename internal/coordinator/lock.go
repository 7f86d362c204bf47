package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
)

// MetadataLock is the single process-wide fair mutex guarding job-instance
// and execution-id creation (spec §4.1 "Why serialize only metadata
// creation"). It is FIFO: a goroutine that calls Acquire before another is
// always handed the lock first, never starved by later arrivals. Built from
// a queue of per-waiter channels plus an atomic waiter count, mirroring the
// teacher's dispatcher queue/counter idiom rather than reaching for a
// library the pack never imports for this.
type MetadataLock struct {
	mu      sync.Mutex
	locked  bool
	queue   []chan struct{}
	waiters atomic.Int64
}

// NewMetadataLock creates an unlocked lock.
func NewMetadataLock() *MetadataLock {
	return &MetadataLock{}
}

// Acquire blocks until the lock is held or ctx is done, whichever comes
// first. Callers must call the returned release func exactly once, and only
// on success.
func (l *MetadataLock) Acquire(ctx context.Context) (release func(), err error) {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return l.release, nil
	}
	ticket := make(chan struct{}, 1)
	l.queue = append(l.queue, ticket)
	l.mu.Unlock()

	l.waiters.Add(1)
	defer l.waiters.Add(-1)

	select {
	case <-ticket:
		return l.release, nil
	case <-ctx.Done():
		// The ticket may already have been handed to us by a concurrent
		// release() between the two select cases becoming ready. If so we
		// now hold the lock and must release it ourselves, since the
		// caller we're returning to never will.
		select {
		case <-ticket:
			l.release()
		default:
			l.mu.Lock()
			queued := false
			for i, t := range l.queue {
				if t == ticket {
					l.queue = append(l.queue[:i], l.queue[i+1:]...)
					queued = true
					break
				}
			}
			l.mu.Unlock()
			if !queued {
				// release() already dequeued the ticket and is sending
				// on it: take the lock and pass it on.
				<-ticket
				l.release()
			}
		}
		return nil, ctx.Err()
	}
}

func (l *MetadataLock) release() {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.locked = false
		l.mu.Unlock()
		return
	}
	next := l.queue[0]
	l.queue = l.queue[1:]
	l.mu.Unlock()
	next <- struct{}{}
}

// QueueDepth returns the number of goroutines currently blocked on Acquire,
// for the §4.1 "Observability" requirement.
func (l *MetadataLock) QueueDepth() int64 {
	return l.waiters.Load()
}
