package reactor

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// poll-style interest/readiness bits, reused across both Poller backends
// so Channel itself never depends on which kernel primitive is live.
const (
	EventNone  = 0
	EventRead  = unix.POLLIN | unix.POLLPRI
	EventWrite = unix.POLLOUT
)

// channelState tracks whether a Channel's descriptor has ever been
// registered with the active Poller, mirroring EPollPoller's New /
// Added / Deleted states from the muduo original.
type channelState int

const (
	channelNew channelState = iota
	channelAdded
	channelDeleted
)

// ReadCallback is invoked when a Channel's descriptor becomes readable.
// receiveTimeUnixNano is the poll return time, not the time of the call.
type ReadCallback func(receiveTimeUnixNano int64)

// Channel is the per-descriptor dispatch record: an (fd, interest,
// revents) tuple plus typed callbacks. A Channel is pinned to exactly
// one EventLoop for its entire life; every mutator below must run on
// that loop's thread.
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32 // interest mask
	revents uint32 // returned-events mask, set by the loop right before handleEvent

	stateIdx channelState

	readCallback  ReadCallback
	writeCallback func()
	closeCallback func()
	errorCallback func()

	// tie is a weak back-reference: a Channel never owns the object
	// whose lifetime gates its callbacks. tieFn returns false once that
	// object is gone.
	tied  bool
	tieFn func() (release func(), ok bool)

	eventHandling bool
	addedToLoop   bool

	// logHup mirrors muduo's logHup_: some channels (STDIN in the
	// original) want POLLHUP kept quiet; we default to logging it.
	logHup bool
}

// NewChannel creates a Channel for fd, owned by loop. The Channel starts
// with no interest and is not yet registered with the Poller.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:     loop,
		fd:       fd,
		stateIdx: channelNew,
		logHup:   true,
	}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadCallback(cb ReadCallback) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func())      { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func())      { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func())      { c.errorCallback = cb }

// Tie attaches a weak back-reference. release must be called once the
// upgrade succeeds and the event has been dispatched; ok is false once
// the tied object's lifetime has ended.
func (c *Channel) Tie(tieFn func() (release func(), ok bool)) {
	c.tied = true
	c.tieFn = tieFn
}

func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) Events() uint32 { return c.events }

// SetRevents is called only by the owning loop/poller, immediately
// before dispatch.
func (c *Channel) SetRevents(revents uint32) { c.revents = revents }

func (c *Channel) update() {
	c.loop.assertInLoopThread()
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove detaches the Channel from its loop's Poller. Requires an
// empty interest mask.
func (c *Channel) Remove() {
	c.loop.assertInLoopThread()
	if !c.IsNoneEvent() {
		panic(errChannelStillInterested)
	}
	if c.eventHandling {
		panic("goreactor: Channel.Remove() called while handling an event")
	}
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// HandleEvent dispatches revents in fixed priority order: error, then
// read, then write, with a POLLHUP lacking POLLIN closing the channel
// before anything else runs. receiveTimeUnixNano is passed through to
// the read callback unmodified.
func (c *Channel) HandleEvent(receiveTimeUnixNano int64) {
	var release func()
	if c.tied {
		var ok bool
		release, ok = c.tieFn()
		if !ok {
			return
		}
	}
	c.handleEventWithGuard(receiveTimeUnixNano)
	if release != nil {
		release()
	}
}

func (c *Channel) handleEventWithGuard(receiveTimeUnixNano int64) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if (c.revents&unix.POLLHUP != 0) && (c.revents&unix.POLLIN == 0) {
		if c.logHup {
			log.Warn().Int("fd", c.fd).Msg("Channel.HandleEvent() POLLHUP")
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}

	if c.revents&unix.POLLNVAL != 0 {
		log.Warn().Int("fd", c.fd).Msg("Channel.HandleEvent() POLLNVAL")
	}

	if c.revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(unix.POLLIN|unix.POLLPRI|unix.POLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTimeUnixNano)
		}
	}

	if c.revents&unix.POLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) EventHandling() bool { return c.eventHandling }
func (c *Channel) AddedToLoop() bool   { return c.addedToLoop }

func (c *Channel) State() channelState       { return c.stateIdx }
func (c *Channel) SetState(s channelState) { c.stateIdx = s }
