package reactor

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// TcpClient wraps a Connector with the same TcpConnection lifecycle a
// TcpServer gives each accepted connection. At most one connection is
// live at a time; EnableRetry governs whether a closed connection is
// automatically redialed.
type TcpClient struct {
	loop      *EventLoop
	name      string
	connector *Connector

	mu         sync.Mutex
	connection *TcpConnection
	nextConnID int

	retry  atomic.Bool
	connect atomic.Bool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
}

// NewTcpClient prepares (but does not start) a client dialing address
// over network (normally "tcp").
func NewTcpClient(loop *EventLoop, network, address, name string) (*TcpClient, error) {
	connector, err := NewConnector(loop, network, address)
	if err != nil {
		return nil, fmt.Errorf("goreactor: NewTcpClient(%s): %w", name, err)
	}
	c := &TcpClient{loop: loop, name: name, connector: connector}
	connector.SetConnectSuccessCallback(c.newConnection)
	return c, nil
}

func (c *TcpClient) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TcpClient) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TcpClient) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// EnableRetry causes the client to redial after the current connection
// closes.
func (c *TcpClient) EnableRetry() { c.retry.Store(true) }

// Connect starts the Connector. Idempotent.
func (c *TcpClient) Connect() {
	if !c.connect.CAS(false, true) {
		return
	}
	c.connector.Start()
}

// Disconnect shuts down the live connection, if any, without preventing
// a future Connect.
func (c *TcpClient) Disconnect() {
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop cancels any in-flight connect attempt and disables retry.
func (c *TcpClient) Stop() {
	c.connect.Store(false)
	c.connector.Stop()
}

// Connection returns the current live connection, or nil.
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

func (c *TcpClient) newConnection(fd int, peer InetAddress) {
	c.loop.assertInLoopThread()

	local, err := getLocalAddr(fd)
	if err != nil {
		local = InetAddress{}
	}

	c.mu.Lock()
	c.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", c.name, peer, c.nextConnID)
	c.mu.Unlock()

	conn := NewTcpConnection(c.loop, connName, fd, local, peer)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.setCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()

	conn.connectEstablished()
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.loop.QueueInLoop(conn.connectDestroyed)

	c.mu.Lock()
	c.connection = nil
	c.mu.Unlock()

	if c.retry.Load() && c.connect.Load() {
		c.connector.Start()
	}
}
