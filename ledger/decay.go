package ledger

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// decayEntry is one pending decrement for key.
type decayEntry struct {
	at  time.Time
	key string
	seq uint64
}

type decayQueue []decayEntry

func (q decayQueue) Len() int { return len(q) }
func (q decayQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q decayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *decayQueue) Push(x any)   { *q = append(*q, x.(decayEntry)) }
func (q *decayQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// scheduler holds every pending decrement in expiry order and fires them from
// a single goroutine. Entries cannot be cancelled.
type scheduler struct {
	mu    sync.Mutex
	queue decayQueue
	seq   uint64
	wake  chan struct{}
	now   func() time.Time
	fire  func(key string)
}

func newScheduler(now func() time.Time, fire func(key string)) *scheduler {
	return &scheduler{
		wake: make(chan struct{}, 1),
		now:  now,
		fire: fire,
	}
}

// schedule queues a decrement of key at the given time.
func (s *scheduler) schedule(key string, at time.Time) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.queue, decayEntry{at: at, key: key, seq: s.seq})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pending reports the number of queued decrements.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// next returns the earliest expiry, if any.
func (s *scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// fireDue pops and fires every entry due at or before now, in order.
// The queue lock is released before each fire so fire may schedule again.
func (s *scheduler) fireDue(now time.Time) int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].at.After(now) {
			s.mu.Unlock()
			return n
		}
		e := heap.Pop(&s.queue).(decayEntry)
		s.mu.Unlock()
		s.fire(e.key)
		n++
	}
}

// run processes entries until ctx is done.
func (s *scheduler) run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.fireDue(s.now())

		wait := time.Hour
		if at, ok := s.next(); ok {
			wait = at.Sub(s.now())
			if wait <= 0 {
				continue
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}
