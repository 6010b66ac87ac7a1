package reactor

import (
	"sort"
	"time"
)

// activeKey identifies a timer for cancellation lookup: (pointer, sequence).
type activeKey struct {
	t   *timer
	seq int64
}

// TimerQueue is the ordered set of timers driven by one kernel timer
// descriptor. All mutation happens on the owning EventLoop's thread;
// AddTimer/Cancel cross threads via loop.RunInLoop.
type TimerQueue struct {
	loop *EventLoop

	timerFd        int
	timerFdChannel *Channel

	// timers is kept sorted by (expirationNs, sequence) ascending;
	// ties break on sequence, a monotonically increasing counter
	// assigned at timer creation (see DESIGN.md).
	timers []*timer

	activeTimers map[activeKey]*timer

	callingExpiredTimers bool
	cancelingTimers      map[activeKey]struct{}
}

// NewTimerQueue creates a TimerQueue bound to loop and arms its read
// callback; the timerfd itself starts disarmed.
func NewTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := createTimerFd()
	if err != nil {
		return nil, err
	}
	tq := &TimerQueue{
		loop:         loop,
		timerFd:      fd,
		activeTimers: make(map[activeKey]*timer),
	}
	tq.timerFdChannel = NewChannel(loop, fd)
	tq.timerFdChannel.SetReadCallback(func(int64) { tq.handleRead() })
	tq.timerFdChannel.EnableReading()
	return tq, nil
}

func (q *TimerQueue) close() {
	q.timerFdChannel.DisableAll()
	q.timerFdChannel.Remove()
	_ = closeFd(q.timerFd)
}

// AddTimer schedules cb to run at whenUnixNano, repeating every
// intervalNs if intervalNs > 0. It returns immediately with a TimerId
// valid even after the timer has fired.
func (q *TimerQueue) AddTimer(cb TimerCallback, whenUnixNano int64, intervalNs int64) TimerId {
	t := newTimer(cb, whenUnixNano, intervalNs)
	q.loop.RunInLoop(func() { q.addTimerInLoop(t) })
	return TimerId{t: t, sequence: t.sequence}
}

// Cancel is fire-and-forget; cancelling an already-fired one-shot timer
// is a no-op.
func (q *TimerQueue) Cancel(id TimerId) {
	if !id.valid() {
		return
	}
	q.loop.RunInLoop(func() { q.cancelInLoop(id) })
}

func (q *TimerQueue) addTimerInLoop(t *timer) {
	q.loop.assertInLoopThread()
	earliestChanged := q.insert(t)
	if earliestChanged {
		resetTimerFd(q.timerFd, t.expirationNs, false)
	}
}

func (q *TimerQueue) cancelInLoop(id TimerId) {
	q.loop.assertInLoopThread()
	key := activeKey{t: id.t, seq: id.sequence}
	if t, ok := q.activeTimers[key]; ok {
		q.removeFromTimers(t)
		delete(q.activeTimers, key)
	} else if q.callingExpiredTimers {
		if q.cancelingTimers == nil {
			q.cancelingTimers = make(map[activeKey]struct{})
		}
		q.cancelingTimers[key] = struct{}{}
	}
}

func (q *TimerQueue) handleRead() {
	q.loop.assertInLoopThread()
	now := time.Now().UnixNano()
	readTimerFd(q.timerFd)

	expired := q.getExpired(now)

	q.callingExpiredTimers = true
	q.cancelingTimers = make(map[activeKey]struct{})
	for _, t := range expired {
		t.callback()
	}
	q.callingExpiredTimers = false

	q.reset(expired, now)
}

// getExpired extracts every timer whose expiration is <= now, using a
// sentinel lower-bound technique: compose a sentinel entry at (now,
// maximum sequence) so the slice split lands exactly after every timer
// due at or before now, regardless of how many share that exact
// timestamp.
func (q *TimerQueue) getExpired(now int64) []*timer {
	idx := sort.Search(len(q.timers), func(i int) bool {
		return entryLess(entryKey{now, maxSequenceSentinel}, entryKeyOf(q.timers[i]))
	})
	expired := make([]*timer, idx)
	copy(expired, q.timers[:idx])
	q.timers = q.timers[idx:]

	for _, t := range expired {
		delete(q.activeTimers, activeKey{t: t, seq: t.sequence})
	}
	return expired
}

func (q *TimerQueue) reset(expired []*timer, now int64) {
	for _, t := range expired {
		key := activeKey{t: t, seq: t.sequence}
		if _, canceling := q.cancelingTimers[key]; t.repeat() && !canceling {
			t.restart(now)
			q.insert(t)
		}
		// else: drop it; Go's GC reclaims it, no explicit free needed.
	}

	if len(q.timers) > 0 {
		resetTimerFd(q.timerFd, q.timers[0].expirationNs, false)
	} else {
		resetTimerFd(q.timerFd, 0, true)
	}
}

// insert adds t to both containers and reports whether it is now the
// earliest-expiring timer (so the caller knows whether to reprogram
// the kernel timer descriptor).
func (q *TimerQueue) insert(t *timer) bool {
	earliestChanged := len(q.timers) == 0 || entryLess(entryKeyOf(t), entryKeyOf(q.timers[0]))

	idx := sort.Search(len(q.timers), func(i int) bool {
		return !entryLess(entryKeyOf(q.timers[i]), entryKeyOf(t))
	})
	q.timers = append(q.timers, nil)
	copy(q.timers[idx+1:], q.timers[idx:])
	q.timers[idx] = t

	q.activeTimers[activeKey{t: t, seq: t.sequence}] = t
	return earliestChanged
}

func (q *TimerQueue) removeFromTimers(t *timer) {
	for i, cand := range q.timers {
		if cand == t {
			q.timers = append(q.timers[:i], q.timers[i+1:]...)
			return
		}
	}
}

// entryKey orders timers on (expirationNs, sequence).
type entryKey struct {
	expirationNs int64
	sequence     int64
}

const maxSequenceSentinel = int64(^uint64(0) >> 1) // math.MaxInt64, avoids importing math for one constant

func entryKeyOf(t *timer) entryKey {
	return entryKey{expirationNs: t.expirationNs, sequence: t.sequence}
}

func entryLess(a, b entryKey) bool {
	if a.expirationNs != b.expirationNs {
		return a.expirationNs < b.expirationNs
	}
	return a.sequence < b.sequence
}
