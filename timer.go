package reactor

import (
	"go.uber.org/atomic"
)

var timerSequenceCounter = atomic.NewInt64(0)

// TimerCallback is invoked when a Timer expires.
type TimerCallback func()

// timer is the internal representation of a scheduled callback:
// expiration, repeat interval, sequence id, and the callback itself.
type timer struct {
	callback      TimerCallback
	expirationNs  int64
	intervalNs    int64 // 0 means one-shot
	sequence      int64
}

func newTimer(cb TimerCallback, whenUnixNano int64, intervalNs int64) *timer {
	return &timer{
		callback:     cb,
		expirationNs: whenUnixNano,
		intervalNs:   intervalNs,
		sequence:     timerSequenceCounter.Add(1),
	}
}

func (t *timer) repeat() bool { return t.intervalNs > 0 }

func (t *timer) restart(nowUnixNano int64) {
	if t.repeat() {
		t.expirationNs = nowUnixNano + t.intervalNs
	} else {
		t.expirationNs = 0
	}
}

// TimerId is the stable, non-owning handle returned by AddTimer: a
// (timer pointer, sequence) pair. Equality requires both fields to
// match, so a freed-then-reused *timer pointer never aliases a stale
// TimerId — Go's GC means addresses are not actually reused the way
// muduo's raw `new`/`delete` would, but the pair is kept anyway to stay
// faithful to the handle's equality contract.
type TimerId struct {
	t        *timer
	sequence int64
}

func (id TimerId) valid() bool { return id.t != nil }
