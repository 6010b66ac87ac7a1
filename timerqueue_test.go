package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerQueueInsertOrdersByExpirationThenSequence(t *testing.T) {
	loop := newTestLoop(t)
	tq := loop.timerQueue

	now := time.Now().UnixNano()
	t3 := newTimer(func() {}, now+300, 0)
	t1 := newTimer(func() {}, now+100, 0)
	t2a := newTimer(func() {}, now+200, 0)
	t2b := newTimer(func() {}, now+200, 0)

	tq.insert(t3)
	tq.insert(t1)
	tq.insert(t2b)
	tq.insert(t2a)

	require.Len(t, tq.timers, 4)
	assert.Same(t, t1, tq.timers[0])
	// t2b was inserted before t2a, but t2a has the lower sequence
	// (constructed first), so it sorts first among the tied expirations.
	assert.Same(t, t2a, tq.timers[1])
	assert.Same(t, t2b, tq.timers[2])
	assert.Same(t, t3, tq.timers[3])
}

func TestTimerQueueGetExpiredSplitsAtSentinel(t *testing.T) {
	loop := newTestLoop(t)
	tq := loop.timerQueue

	now := time.Now().UnixNano()
	past := newTimer(func() {}, now-100, 0)
	atNow := newTimer(func() {}, now, 0)
	future := newTimer(func() {}, now+1_000_000_000, 0)

	tq.insert(future)
	tq.insert(past)
	tq.insert(atNow)

	expired := tq.getExpired(now)
	require.Len(t, expired, 2)
	assert.Same(t, past, expired[0])
	assert.Same(t, atNow, expired[1])
	require.Len(t, tq.timers, 1)
	assert.Same(t, future, tq.timers[0])

	for _, e := range expired {
		_, stillActive := tq.activeTimers[activeKey{t: e, seq: e.sequence}]
		assert.False(t, stillActive)
	}
}

func TestTimerQueueRemoveFromTimers(t *testing.T) {
	loop := newTestLoop(t)
	tq := loop.timerQueue

	now := time.Now().UnixNano()
	a := newTimer(func() {}, now+100, 0)
	b := newTimer(func() {}, now+200, 0)
	tq.insert(a)
	tq.insert(b)

	tq.removeFromTimers(a)
	require.Len(t, tq.timers, 1)
	assert.Same(t, b, tq.timers[0])
}

func TestEntryLessOrdersByExpirationThenSequence(t *testing.T) {
	a := entryKey{expirationNs: 10, sequence: 5}
	b := entryKey{expirationNs: 10, sequence: 6}
	c := entryKey{expirationNs: 11, sequence: 1}

	assert.True(t, entryLess(a, b))
	assert.False(t, entryLess(b, a))
	assert.True(t, entryLess(b, c))
	assert.False(t, entryLess(a, a))
}
