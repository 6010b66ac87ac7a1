package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestLoop builds an EventLoop without running Loop(). NewEventLoop
// binds the loop to its constructing goroutine, so loop-thread-only
// mutators (Channel's Enable*/Disable*, TimerQueue's insert/getExpired,
// etc.) can be called directly from the test goroutine.
func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop(EventLoopConfig{})
	require.NoError(t, err)
	return loop
}

func TestChannelHandleEventPriority(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetErrorCallback(func() { order = append(order, "error") })
	ch.SetReadCallback(func(int64) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	ch.SetRevents(uint32(unix.POLLERR | unix.POLLIN | unix.POLLOUT))
	ch.HandleEvent(0)
	assert.Equal(t, []string{"error", "read", "write"}, order)
}

func TestChannelHandleEventHupWithoutReadableClosesFirst(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetReadCallback(func(int64) { order = append(order, "read") })

	ch.SetRevents(uint32(unix.POLLHUP))
	ch.HandleEvent(0)
	assert.Equal(t, []string{"close"}, order)
}

func TestChannelHandleEventHupWithReadableSkipsClose(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetReadCallback(func(int64) { order = append(order, "read") })

	ch.SetRevents(uint32(unix.POLLHUP | unix.POLLIN))
	ch.HandleEvent(0)
	assert.Equal(t, []string{"read"}, order)
}

func TestChannelTieSkipsDispatchWhenUpgradeFails(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	called := false
	ch.SetReadCallback(func(int64) { called = true })
	ch.Tie(func() (func(), bool) { return nil, false })

	ch.SetRevents(uint32(unix.POLLIN))
	ch.HandleEvent(0)
	assert.False(t, called)
}

func TestChannelEnableDisableUpdatesInterest(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFds(t)
	require.NoError(t, err)
	defer closeFd(r)
	defer closeFd(w)

	ch := NewChannel(loop, r)
	assert.True(t, ch.IsNoneEvent())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.True(t, ch.AddedToLoop())

	ch.DisableAll()
	assert.True(t, ch.IsNoneEvent())
	ch.Remove()
}

func TestChannelRemoveWithInterestPanics(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFds(t)
	require.NoError(t, err)
	defer closeFd(r)
	defer closeFd(w)

	ch := NewChannel(loop, r)
	ch.EnableReading()
	assert.Panics(t, func() { ch.Remove() })
}

func TestChannelRemoveDuringHandleEventPanics(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	ch.SetReadCallback(func(int64) {
		assert.True(t, ch.EventHandling())
		ch.Remove()
	})

	ch.SetRevents(uint32(unix.POLLIN))
	assert.Panics(t, func() { ch.HandleEvent(0) })
	assert.False(t, ch.EventHandling())
}
