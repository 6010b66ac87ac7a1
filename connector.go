package reactor

import (
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const (
	connectorInitRetryDelay = 500 * time.Millisecond
	connectorMaxRetryDelay  = 30 * time.Second

	addrCacheTTL = 30 * time.Second
)

// ConnectSuccessCallback hands a newly-established fd and its peer
// address up to the owning TcpClient.
type ConnectSuccessCallback func(fd int, peer InetAddress)

// Connector is the reconnecting connect(2) state machine behind
// TcpClient: attempt connect, wait for writability on EINPROGRESS,
// verify with SO_ERROR and a self-connect check, and retry with
// exponential backoff on transient failure.
type Connector struct {
	loop    *EventLoop
	network string
	address string

	channel *Channel
	fd      int

	started atomic.Bool

	retryDelay time.Duration

	onSuccess ConnectSuccessCallback

	// addrCache memoizes net.ResolveTCPAddr results so a fast retry loop
	// against a flapping peer doesn't re-resolve DNS on every attempt.
	addrCache *ristretto.Cache
}

// NewConnector constructs a Connector bound to loop, targeting address
// ("host:port" over network, typically "tcp").
func NewConnector(loop *EventLoop, network, address string) (*Connector, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Connector{
		loop:       loop,
		network:    network,
		address:    address,
		retryDelay: connectorInitRetryDelay,
		fd:         -1,
		addrCache:  cache,
	}, nil
}

func (c *Connector) SetConnectSuccessCallback(cb ConnectSuccessCallback) { c.onSuccess = cb }

// Start kicks off the first connect attempt. Safe to call from any
// thread.
func (c *Connector) Start() {
	c.started.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// Stop cancels any in-flight connect attempt; a connection that has
// already succeeded and been handed off is unaffected.
func (c *Connector) Stop() {
	c.started.Store(false)
	c.loop.RunInLoop(func() {
		if c.channel != nil {
			c.channel.DisableAll()
			c.channel.Remove()
			_ = closeFd(c.fd)
			c.channel = nil
			c.fd = -1
		}
	})
}

func (c *Connector) startInLoop() {
	c.loop.assertInLoopThread()
	if !c.started.Load() {
		return
	}
	c.connect()
}

func (c *Connector) resolve() (string, error) {
	if v, ok := c.addrCache.Get(c.address); ok {
		return v.(string), nil
	}
	resolved, err := net.ResolveTCPAddr(c.network, c.address)
	if err != nil {
		return "", err
	}
	c.addrCache.SetWithTTL(c.address, resolved.String(), 1, addrCacheTTL)
	c.addrCache.Wait()
	return resolved.String(), nil
}

func (c *Connector) connect() {
	resolved, err := c.resolve()
	if err != nil {
		log.Error().Err(err).Str("address", c.address).Msg("Connector could not resolve address")
		c.retry()
		return
	}

	fd, _, err := newConnectingSocket(c.network, resolved)
	if err != nil {
		c.handleConnectError(err)
		return
	}
	c.fd = fd
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWriting()
}

func (c *Connector) handleConnectError(err error) {
	errno, ok := err.(unix.Errno)
	if !ok {
		log.Error().Err(err).Str("address", c.address).Msg("Connector.connect() failed")
		c.retry()
		return
	}
	switch errno {
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		log.Warn().Err(err).Str("address", c.address).Msg("Connector.connect() transient failure, retrying")
		c.retry()
	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		log.Fatal().Err(err).Str("address", c.address).Msg("Connector.connect() programming error")
	default:
		log.Error().Err(err).Str("address", c.address).Msg("Connector.connect() unexpected errno, retrying")
		c.retry()
	}
}

func (c *Connector) handleWrite() {
	c.loop.assertInLoopThread()
	if c.channel == nil {
		return
	}
	if c.channel.EventHandling() {
		// Channel.Remove() refuses to run inside the Channel's own
		// HandleEvent, so finish once this dispatch has returned.
		c.loop.QueueInLoop(c.handleWrite)
		return
	}
	c.channel.DisableAll()
	c.channel.Remove()

	fd := c.fd
	if err := getSocketError(fd); err != nil {
		log.Warn().Err(err).Str("address", c.address).Msg("Connector self-check via SO_ERROR failed, retrying")
		_ = closeFd(fd)
		c.retry()
		return
	}
	if isSelfConnect(fd) {
		log.Warn().Str("address", c.address).Msg("Connector detected self-connect, retrying")
		_ = closeFd(fd)
		c.retry()
		return
	}

	peer, _ := getPeerAddr(fd)
	c.retryDelay = connectorInitRetryDelay
	c.channel = nil
	if c.onSuccess != nil {
		c.onSuccess(fd, peer)
	}
}

func (c *Connector) handleError() {
	c.loop.assertInLoopThread()
	if c.channel == nil {
		return
	}
	if c.channel.EventHandling() {
		c.loop.QueueInLoop(c.handleError)
		return
	}
	err := getSocketError(c.fd)
	log.Warn().Err(err).Str("address", c.address).Msg("Connector.handleError()")
	c.channel.DisableAll()
	c.channel.Remove()
	_ = closeFd(c.fd)
	c.channel = nil
	c.retry()
}

func (c *Connector) retry() {
	if !c.started.Load() {
		return
	}
	delay := c.retryDelay
	c.loop.RunAfter(delay, func() {
		if c.started.Load() {
			c.connect()
		}
	})
	c.retryDelay *= 2
	if c.retryDelay > connectorMaxRetryDelay {
		c.retryDelay = connectorMaxRetryDelay
	}
}
