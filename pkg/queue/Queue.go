package queue

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

//=========================================== Priority Time Queue
//
// Ordering rules (spec.md §4.1), checked in order on every dequeue attempt:
//   1. Timeout first: if the earliest byTimeout entry has timeoutTimestamp
//      < now, return that command regardless of priority or execute-time.
//   2. Highest priority with a ready command: scan priorities highest to
//      lowest; within a bucket only the earliest executeTimestamp matters.
//      If it's <= now, return it. Never fall through to a lower priority
//      just because a higher bucket's earliest entry isn't due yet.
//   3. Otherwise report "empty".

func New[T Schedulable](opts Opts) *Queue[T] {
	q := &Queue[T]{
		byPriority: make(map[int][]*entry[T]),
		nowUS:      opts.NowUS,
	}
	if q.nowUS == nil {
		q.nowUS = func() uint64 { return uint64(time.Now().UnixMicro()) }
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Push takes ownership of item, filing it under its priority bucket keyed
// by executeTimestamp and into the timeout lookaside index, then wakes
// exactly one waiter. Multiple items sharing (priority, executeTimestamp)
// are FIFO-ordered by insertion sequence.
func (q *Queue[T]) Push(item T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	seq := q.nextSeq
	q.nextSeq++

	e := &entry[T]{item: item, seq: seq}
	bucket := q.byPriority[item.SchedulingPriority()]
	bucket = insertEntrySorted(bucket, e)
	q.byPriority[item.SchedulingPriority()] = bucket

	q.byTimeout = insertTimeoutSorted(q.byTimeout, &timeoutIndexEntry{
		timeoutTimestamp: item.SchedulingTimeoutTimestamp(),
		priority:         item.SchedulingPriority(),
		executeTimestamp: item.SchedulingExecuteTimestamp(),
		seq:              seq,
	})

	if cs, ok := any(item).(commandStarter); ok {
		cs.StartQueueTiming()
	}

	q.cond.Signal()
}

// commandStarter lets Push start the QUEUE_WORKER timing phase without the
// queue package depending on pkg/command directly.
type commandStarter interface {
	StartQueueTiming()
}

// Get returns the next workable command, blocking up to timeout (0 means
// wait indefinitely) for one to become available. If counter is non-nil it
// is incremented under the same lock that removes the command from the
// queue, so an external observer adding Size()+counter never sees a
// transient undercount across the dequeue transition (spec.md §5).
func (q *Queue[T]) Get(timeout time.Duration, counter *int64) (T, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if item, ok := q.dequeueLocked(counter); ok {
		return item, nil
	}

	if timeout == 0 {
		for {
			q.cond.Wait()
			if item, ok := q.dequeueLocked(counter); ok {
				return item, nil
			}
		}
	}

	// sync.Cond has no wait-with-deadline, so a single timer goroutine
	// broadcasts once the deadline passes, unblocking the loop below.
	// Spurious wake-ups (from Push, or from this timer) just re-check.
	deadline := time.Now().Add(timeout)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()

		select {
		case <-timer.C:
			q.mutex.Lock()
			q.cond.Broadcast()
			q.mutex.Unlock()
		case <-stop:
		}
	}()

	for {
		q.cond.Wait()

		if item, ok := q.dequeueLocked(counter); ok {
			return item, nil
		}

		if !time.Now().Before(deadline) {
			return zero[T](), ErrTimeout
		}
	}
}

func zero[T any]() T {
	var z T
	return z
}

// Empty reports whether any command is queued.
func (q *Queue[T]) Empty() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.sizeLocked() == 0
}

// Size sums every priority bucket's length.
func (q *Queue[T]) Size() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.sizeLocked()
}

func (q *Queue[T]) sizeLocked() int {
	total := 0
	for _, bucket := range q.byPriority {
		total += len(bucket)
	}
	return total
}

// Clear drops everything queued. No notification is sent to waiters.
func (q *Queue[T]) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.byPriority = make(map[int][]*entry[T])
	q.byTimeout = nil
}

// SnapshotMethodLines returns the method line of every queued command,
// used by the Status diagnostic command (spec.md §4.1, §6).
func (q *Queue[T]) SnapshotMethodLines() []string {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	lines := make([]string, 0, q.sizeLocked())
	for _, bucket := range q.byPriority {
		for _, e := range bucket {
			lines = append(lines, e.item.SchedulingMethodLine())
		}
	}
	return lines
}

// RemoveByID linear-scans every bucket for a command with the given ID and
// removes it. spec.md §9 notes this path is effectively untested in the
// original source; its contract here is "best effort, exercised rarely."
func (q *Queue[T]) RemoveByID(id string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for priority, bucket := range q.byPriority {
		for i, e := range bucket {
			if e.item.SchedulingID() != id {
				continue
			}

			q.byPriority[priority] = append(bucket[:i:i], bucket[i+1:]...)
			if len(q.byPriority[priority]) == 0 {
				delete(q.byPriority, priority)
			}
			q.removeTimeoutEntryLocked(e.item.SchedulingTimeoutTimestamp(), e.seq)
			return true
		}
	}
	return false
}

// PruneFuture discards every command scheduled more than msAhead
// milliseconds from now, maintaining the byTimeout invariant and erasing
// any bucket that becomes empty. No notification is sent to waiters — this
// only removes work, it never surfaces a result to anyone blocked in Get.
func (q *Queue[T]) PruneFuture(msAhead int) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	limit := q.nowUS() + uint64(msAhead)*1000
	removed := 0

	for priority, bucket := range q.byPriority {
		cut := len(bucket)
		for i, e := range bucket {
			if e.item.SchedulingExecuteTimestamp() > limit {
				cut = i
				break
			}
		}

		if cut == len(bucket) {
			continue
		}

		for _, e := range bucket[cut:] {
			q.removeTimeoutEntryLocked(e.item.SchedulingTimeoutTimestamp(), e.seq)
		}

		removed += len(bucket) - cut
		if cut == 0 {
			delete(q.byPriority, priority)
		} else {
			q.byPriority[priority] = bucket[:cut:cut]
		}
	}

	return removed
}

//=========================================== internal

// dequeueLocked implements the three-rule ordering. Caller must hold
// q.mutex. Returns ok=false when nothing is workable.
func (q *Queue[T]) dequeueLocked(counter *int64) (T, bool) {
	now := q.nowUS()

	if len(q.byTimeout) > 0 && q.byTimeout[0].timeoutTimestamp < now {
		te := q.byTimeout[0]
		bucket := q.byPriority[te.priority]
		for i, e := range bucket {
			if e.seq != te.seq {
				continue
			}

			item := e.item
			q.byPriority[te.priority] = append(bucket[:i:i], bucket[i+1:]...)
			if len(q.byPriority[te.priority]) == 0 {
				delete(q.byPriority, te.priority)
			}
			q.byTimeout = q.byTimeout[1:]

			if counter != nil {
				atomic.AddInt64(counter, 1)
			}
			if cs, ok := any(item).(commandStopper); ok {
				cs.StopQueueTiming()
			}
			return item, true
		}

		// byTimeout and byPriority invariant violated; drop the stale
		// index row and fall through to the priority scan below.
		q.byTimeout = q.byTimeout[1:]
	}

	priorities := make([]int, 0, len(q.byPriority))
	for p := range q.byPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	for _, p := range priorities {
		bucket := q.byPriority[p]
		if len(bucket) == 0 {
			continue
		}

		head := bucket[0]
		if head.item.SchedulingExecuteTimestamp() > now {
			continue
		}

		item := head.item
		q.byPriority[p] = bucket[1:]
		if len(q.byPriority[p]) == 0 {
			delete(q.byPriority, p)
		}
		q.removeTimeoutEntryLocked(item.SchedulingTimeoutTimestamp(), head.seq)

		if counter != nil {
			atomic.AddInt64(counter, 1)
		}
		if cs, ok := any(item).(commandStopper); ok {
			cs.StopQueueTiming()
		}
		return item, true
	}

	return zero[T](), false
}

// commandStopper mirrors commandStarter for the matching StopTiming call.
type commandStopper interface {
	StopQueueTiming()
}

func (q *Queue[T]) removeTimeoutEntryLocked(timeoutTimestamp uint64, seq uint64) {
	for i, te := range q.byTimeout {
		if te.seq == seq && te.timeoutTimestamp == timeoutTimestamp {
			q.byTimeout = append(q.byTimeout[:i:i], q.byTimeout[i+1:]...)
			return
		}
	}
}

func insertEntrySorted[T Schedulable](bucket []*entry[T], e *entry[T]) []*entry[T] {
	i := sort.Search(len(bucket), func(i int) bool {
		bi := bucket[i]
		if bi.item.SchedulingExecuteTimestamp() != e.item.SchedulingExecuteTimestamp() {
			return bi.item.SchedulingExecuteTimestamp() > e.item.SchedulingExecuteTimestamp()
		}
		return bi.seq > e.seq
	})

	bucket = append(bucket, nil)
	copy(bucket[i+1:], bucket[i:])
	bucket[i] = e
	return bucket
}

func insertTimeoutSorted(idx []*timeoutIndexEntry, te *timeoutIndexEntry) []*timeoutIndexEntry {
	i := sort.Search(len(idx), func(i int) bool {
		return idx[i].timeoutTimestamp > te.timeoutTimestamp
	})

	idx = append(idx, nil)
	copy(idx[i+1:], idx[i:])
	idx[i] = te
	return idx
}
