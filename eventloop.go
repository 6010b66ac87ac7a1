package reactor

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// PollerBackend selects the concrete Poller implementation an EventLoop
// uses. EventLoopConfig.PollerBackend is a per-loop override; the
// MUDUO_USE_POLL environment variable remains as a process-wide
// default for callers that don't set it explicitly.
type PollerBackend int

const (
	// PollerDefault defers to MUDUO_USE_POLL, falling back to epoll.
	PollerDefault PollerBackend = iota
	PollerEpoll
	PollerPoll
)

// EventLoopConfig carries the per-loop options exposed as data rather
// than compile-time switches.
type EventLoopConfig struct {
	PollerBackend PollerBackend
	// PollTimeout bounds how long Loop() may block in one Poll() call
	// when there is no pending timer; zero selects the default.
	PollTimeout time.Duration
	// LockOSThread pins Loop() to its OS thread for its entire run.
	// muduo's reactor relies on a real 1:1 thread-to-loop mapping
	// (thread-local current loop, epoll fd affinity); Go's M:N
	// scheduler doesn't need this for correctness, but setting it keeps
	// one loop from migrating onto a different OS thread mid-run.
	LockOSThread bool
}

const defaultPollTimeout = 10 * time.Second

// EventLoop is one reactor: one goroutine-affine loop that owns a set
// of Channels, runs a Poller, and drains a cross-thread task queue
// every iteration. "one loop per thread" is enforced by pinning the
// loop to the goroutine that constructs it via NewEventLoop — which
// must be the same goroutine that goes on to call Loop().
type EventLoop struct {
	poller     Poller
	timerQueue *TimerQueue

	wakeupFd      int
	wakeupChannel *Channel

	looping atomic.Bool
	quit    atomic.Bool

	eventHandling        bool
	callingPendingFunctors bool

	activeChannels        []*Channel
	currentActiveChannel  *Channel

	mu             sync.Mutex
	pendingFunctors []func()

	loopGoroutineID atomic.Uint64

	pollTimeout  time.Duration
	lockOSThread bool

	createdAt time.Time

	stats LoopStats
}

// NewEventLoop constructs an EventLoop and binds it to the calling
// goroutine, which must be the same goroutine that later calls Loop() —
// the Go analogue of muduo's "one loop per thread" rule, where the
// EventLoop object is constructed and run on the same OS thread.
// TimerQueue's constructor enables its timerfd channel immediately, so
// the binding has to exist before NewTimerQueue runs.
func NewEventLoop(cfg EventLoopConfig) (*EventLoop, error) {
	poller, err := newPollerFor(cfg.PollerBackend)
	if err != nil {
		return nil, err
	}
	wakeupFd, err := newWakeupFd()
	if err != nil {
		return nil, err
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	loop := &EventLoop{
		poller:       poller,
		wakeupFd:     wakeupFd,
		pollTimeout:  timeout,
		lockOSThread: cfg.LockOSThread,
		createdAt:    time.Now(),
	}
	loop.loopGoroutineID.Store(currentGoroutineID())
	loop.wakeupChannel = NewChannel(loop, wakeupFd)

	tq, err := NewTimerQueue(loop)
	if err != nil {
		return nil, err
	}
	loop.timerQueue = tq

	return loop, nil
}

func newPollerFor(backend PollerBackend) (Poller, error) {
	switch backend {
	case PollerPoll:
		return newPollPoller()
	case PollerEpoll:
		return newEpollPoller()
	default:
		if os.Getenv("MUDUO_USE_POLL") != "" {
			return newPollPoller()
		}
		return newEpollPoller()
	}
}

// Loop runs the reactor until Quit is called. It must be invoked from
// the same goroutine that called NewEventLoop, and blocks until
// shutdown.
func (l *EventLoop) Loop() {
	if !l.looping.CAS(false, true) {
		panic("goreactor: EventLoop.Loop() called twice")
	}
	l.assertInLoopThread()
	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer l.looping.Store(false)

	l.wakeupChannel.SetReadCallback(func(int64) { wakeupRead(l.wakeupFd) })
	l.wakeupChannel.EnableReading()

	log.Debug().Msg("EventLoop starting")

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		active, pollTime, err := l.poller.Poll(int(l.pollTimeout / time.Millisecond))
		if err != nil {
			logPollerErr("poll", err)
		}
		l.activeChannels = active

		l.eventHandling = true
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(pollTime)
		}
		l.currentActiveChannel = nil
		l.eventHandling = false

		l.doPendingFunctors()
	}

	log.Debug().Msg("EventLoop stopping")
}

// Quit asks the loop to stop. Safe to call from any goroutine.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.isInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop runs fn immediately if called from the loop's own thread,
// otherwise hands it to QueueInLoop, which runs it with the pending
// functors after the loop has dispatched a poll batch.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.isInLoopThread() {
		fn()
	} else {
		l.QueueInLoop(fn)
	}
}

// QueueInLoop always defers fn to the next iteration of Loop, waking the
// loop up if necessary so it doesn't wait out a long poll timeout.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, fn)
	l.mu.Unlock()

	if !l.isInLoopThread() || l.callingPendingFunctors {
		l.Wakeup()
	}
}

func (l *EventLoop) doPendingFunctors() {
	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	l.callingPendingFunctors = true
	for _, fn := range functors {
		fn()
	}
	l.callingPendingFunctors = false
}

// Wakeup forces a blocked Poll() call to return immediately.
func (l *EventLoop) Wakeup() {
	wakeupWrite(l.wakeupFd)
}

func (l *EventLoop) updateChannel(ch *Channel) {
	l.assertInLoopThread()
	if err := l.poller.UpdateChannel(ch); err != nil {
		logPollerErr("UpdateChannel", err)
	}
}

func (l *EventLoop) removeChannel(ch *Channel) {
	l.assertInLoopThread()
	if l.eventHandling {
		if l.currentActiveChannel == ch || channelInSlice(l.activeChannels, ch) {
			panic("goreactor: removeChannel called for a Channel in the current ready batch")
		}
	}
	if err := l.poller.RemoveChannel(ch); err != nil {
		logPollerErr("RemoveChannel", err)
	}
}

func (l *EventLoop) hasChannel(ch *Channel) bool {
	l.assertInLoopThread()
	return l.poller.HasChannel(ch)
}

func channelInSlice(chans []*Channel, target *Channel) bool {
	for _, ch := range chans {
		if ch == target {
			return true
		}
	}
	return false
}

// RunAt schedules cb to run once at whenUnixNano.
func (l *EventLoop) RunAt(whenUnixNano int64, cb TimerCallback) TimerId {
	return l.timerQueue.AddTimer(cb, whenUnixNano, 0)
}

// RunAfter schedules cb to run once after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb TimerCallback) TimerId {
	return l.RunAt(time.Now().Add(delay).UnixNano(), cb)
}

// RunEvery schedules cb to run repeatedly every interval, starting after
// one interval has elapsed.
func (l *EventLoop) RunEvery(interval time.Duration, cb TimerCallback) TimerId {
	when := time.Now().Add(interval).UnixNano()
	return l.timerQueue.AddTimer(cb, when, interval.Nanoseconds())
}

// Cancel cancels a previously scheduled timer. Safe to call from any
// goroutine; cancelling an already-fired one-shot timer is a no-op.
func (l *EventLoop) Cancel(id TimerId) {
	l.timerQueue.Cancel(id)
}

// Stats returns the aggregate connection counters for every
// TcpConnection currently running on this loop.
func (l *EventLoop) Stats() *LoopStats { return &l.stats }

func (l *EventLoop) isInLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && id == currentGoroutineID()
}

// assertInLoopThread aborts the process if called outside the owning
// loop's goroutine: this is a programming error, not a recoverable
// condition.
func (l *EventLoop) assertInLoopThread() {
	if !l.isInLoopThread() {
		log.Fatal().
			Uint64("loopGoroutine", l.loopGoroutineID.Load()).
			Uint64("callerGoroutine", currentGoroutineID()).
			Msg(errNotInLoopThread.Error())
	}
}

// currentGoroutineID parses the running goroutine's id out of its own
// stack trace header. There is no supported API for this. Besides the
// assertInLoopThread() diagnostic it backs isInLoopThread, which decides
// whether RunInLoop, QueueInLoop, Quit and TcpConnection.Send run work
// directly or queue it and wake the loop.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
