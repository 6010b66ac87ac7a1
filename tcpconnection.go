package reactor

import (
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// ConnectionState is the TcpConnection lifecycle.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires on every state transition into Connected and
// into Disconnected.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback fires whenever inputBuffer has new readable bytes.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTimeUnixNano int64)

// WriteCompleteCallback fires once outputBuffer has fully drained.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback fires when outputBuffer crosses the configured
// threshold while growing.
type HighWaterMarkCallback func(conn *TcpConnection, newSize int)

// CloseCallback is the owner (TcpServer/TcpClient) hook invoked once a
// connection reaches handleClose, letting the owner remove it from its
// map before deferring connectDestroyed.
type CloseCallback func(conn *TcpConnection)

const defaultHighWaterMark = 64 * 1024 * 1024

// TcpConnection is the per-connection state machine: owned by a
// TcpServer or TcpClient, pinned to one EventLoop, driving a Channel
// tied weakly to itself so a handleClose during dispatch never frees
// the Channel out from under its own callback.
type TcpConnection struct {
	loop *EventLoop
	name string

	fd      int
	channel *Channel

	localAddr InetAddress
	peerAddr  InetAddress

	state atomic.Int32 // ConnectionState, loop-thread writes, any-thread reads

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	context interface{}

	stats ConnectionStats
}

// NewTcpConnection wraps an already-connected, non-blocking fd. The
// connection starts in StateConnecting; callers invoke connectEstablished
// once they've finished wiring it up.
func NewTcpConnection(loop *EventLoop, name string, fd int, local, peer InetAddress) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     local,
		peerAddr:      peer,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(StateConnecting))
	c.channel = NewChannel(loop, fd)
	// The weak-tie upgrade always succeeds here: the Channel's callbacks
	// close over c, so the Channel can never outlive the connection it
	// dispatches for the way a raw fd callback could in the original.
	c.channel.Tie(func() (func(), bool) { return nil, true })
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	return c
}

func (c *TcpConnection) Name() string          { return c.name }
func (c *TcpConnection) LocalAddr() InetAddress { return c.localAddr }
func (c *TcpConnection) PeerAddr() InetAddress  { return c.peerAddr }
func (c *TcpConnection) Loop() *EventLoop        { return c.loop }
func (c *TcpConnection) Connected() bool         { return c.State() == StateConnected }
func (c *TcpConnection) Disconnected() bool      { return c.State() == StateDisconnected }
func (c *TcpConnection) State() ConnectionState   { return ConnectionState(c.state.Load()) }

func (c *TcpConnection) Stats() *ConnectionStats { return &c.stats }

func (c *TcpConnection) SetContext(ctx interface{})   { c.context = ctx }
func (c *TcpConnection) Context() interface{}         { return c.context }
func (c *TcpConnection) InputBuffer() *Buffer         { return c.inputBuffer }
func (c *TcpConnection) OutputBuffer() *Buffer        { return c.outputBuffer }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}
func (c *TcpConnection) setCloseCallback(cb CloseCallback) { c.closeCallback = cb }

func (c *TcpConnection) SetTcpNoDelay(on bool) error { return setTcpNoDelay(c.fd, on) }
func (c *TcpConnection) SetKeepAlive(on bool) error  { return setKeepAlive(c.fd, on) }

// connectEstablished transitions Connecting -> Connected, enables
// reading, and fires the user's connectionCallback. Must run in loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.assertInLoopThread()
	if c.State() != StateConnecting {
		panic("goreactor: connectEstablished called outside Connecting state")
	}
	c.state.Store(int32(StateConnected))
	c.channel.EnableReading()
	c.loop.Stats().connectionOpened()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed is the final teardown step, scheduled by the owner
// after handleClose. handleClose already moves live connections to
// StateDisconnected, so the state-guarded branch below only fires for a
// connection torn down without ever going through handleClose; it is
// otherwise a no-op before Remove() and closing the socket.
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if c.State() == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
		c.loop.Stats().connectionClosed()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	_ = closeFd(c.fd)
}

func (c *TcpConnection) handleRead(receiveTimeUnixNano int64) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		c.stats.recordRead(n)
		c.loop.Stats().addBytesIn(n)
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTimeUnixNano)
		}
	case n == 0:
		c.handleClose()
	default:
		log.Error().Err(err).Str("conn", c.name).Msg("TcpConnection.handleRead() readFd error")
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		log.Error().Err(err).Str("conn", c.name).Msg("TcpConnection.handleWrite() failed")
		return
	}
	c.stats.recordWrite(n)
	c.loop.Stats().addBytesOut(n)
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}
	c.channel.DisableAll()
	c.state.Store(int32(StateDisconnected))
	c.loop.Stats().connectionClosed()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	err := getSocketError(c.fd)
	log.Error().Err(err).Str("conn", c.name).Msg("TcpConnection.handleError()")
}

// Send queues data for output. Safe to call from any thread.
func (c *TcpConnection) Send(data []byte) {
	if c.loop.isInLoopThread() {
		c.sendInLoop(data)
		return
	}
	payload := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(payload) })
}

func (c *TcpConnection) SendString(s string) { c.Send([]byte(s)) }

func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.assertInLoopThread()
	if c.State() == StateDisconnected {
		log.Warn().Str("conn", c.name).Msg("TcpConnection.sendInLoop() disconnected, giving up write")
		return
	}

	remaining := data
	faultError := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			n = 0
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				log.Error().Err(err).Str("conn", c.name).Msg("TcpConnection.sendInLoop() write failed")
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		} else {
			c.stats.recordWrite(n)
			c.loop.Stats().addBytesOut(n)
			remaining = data[n:]
			if len(remaining) == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		}
	}

	if faultError {
		return
	}
	if len(remaining) == 0 {
		return
	}

	oldLen := c.outputBuffer.ReadableBytes()
	newLen := oldLen + len(remaining)
	if newLen >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
		c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, newLen) })
	}
	c.outputBuffer.Append(remaining)
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown half-closes the write side once the output buffer drains.
func (c *TcpConnection) Shutdown() {
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if c.State() != StateConnected {
		return
	}
	c.state.Store(int32(StateDisconnecting))
	if !c.channel.IsWriting() {
		_ = shutdownWrite(c.fd)
	}
}

// ForceClose closes the connection immediately regardless of pending
// output.
func (c *TcpConnection) ForceClose() {
	if c.State() == StateConnected || c.State() == StateDisconnecting {
		c.loop.RunInLoop(func() {
			if c.State() != StateDisconnected {
				c.state.Store(int32(StateDisconnecting))
				c.handleClose()
			}
		})
	}
}

// ForceCloseWithDelay arms a one-shot timer that force-closes the
// connection after delay. The timer's closure holds a strong reference
// to c, keeping it reachable until the timer fires; ForceClose checks
// the state, so a connection already torn down by then is left alone.
func (c *TcpConnection) ForceCloseWithDelay(delay time.Duration) {
	c.loop.RunAfter(delay, func() {
		c.ForceClose()
	})
}
