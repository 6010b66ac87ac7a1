package reactor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// ReusePortOption controls SO_REUSEPORT on the server's listening socket.
type ReusePortOption int

const (
	NoReusePort ReusePortOption = iota
	Reuseport
)

// TcpServer binds an Acceptor on a base loop to an EventLoopThreadPool:
// accepted connections are distributed round-robin across worker
// loops, each wrapped in a TcpConnection tracked in a
// name->connection map mutated only on the base loop.
type TcpServer struct {
	baseLoop *EventLoop
	name     string
	acceptor *Acceptor
	pool     *EventLoopThreadPool

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int
	threadNum   int

	started atomic.Bool

	threadInitCallback ThreadInitCallback

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
}

// NewTcpServer binds address on baseLoop. name is used to build
// per-connection names and appears in log lines.
func NewTcpServer(baseLoop *EventLoop, address, name string, reuse ReusePortOption) (*TcpServer, error) {
	acceptor, err := NewAcceptor(baseLoop, address, reuse == Reuseport)
	if err != nil {
		return nil, fmt.Errorf("goreactor: NewTcpServer(%s): %w", name, err)
	}
	s := &TcpServer{
		baseLoop:    baseLoop,
		name:        name,
		acceptor:    acceptor,
		pool:        NewEventLoopThreadPool(baseLoop, name),
		connections: make(map[string]*TcpConnection),
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *TcpServer) LocalAddr() InetAddress { return s.acceptor.LocalAddr() }

// SetThreadNum sets how many worker loops the pool spins up when Start
// is called. Must be called before Start.
func (s *TcpServer) SetThreadNum(n int) { s.threadNum = n }

func (s *TcpServer) SetThreadInitCallback(cb ThreadInitCallback) { s.threadInitCallback = cb }
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)       { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// Start is idempotent: it launches the worker pool (if not already
// running) and enables the Acceptor on the base loop.
func (s *TcpServer) Start() error {
	if !s.started.CAS(false, true) {
		return nil
	}
	if err := s.pool.Start(s.threadNum, s.threadInitCallback); err != nil {
		return err
	}
	s.baseLoop.RunInLoop(s.acceptor.Listen)
	log.Info().Str("server", s.name).Str("addr", s.LocalAddr().String()).Msg("TcpServer started")
	return nil
}

// Stop force-closes every live connection (each from its own loop) and
// stops the worker pool.
func (s *TcpServer) Stop() {
	s.mu.Lock()
	conns := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ForceClose()
	}
	s.pool.Stop()
}

func (s *TcpServer) newConnection(fd int, peer InetAddress) {
	s.baseLoop.assertInLoopThread()

	loop := s.pool.GetNextLoop()

	s.mu.Lock()
	s.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.LocalAddr(), s.nextConnID)
	s.mu.Unlock()

	local, err := getLocalAddr(fd)
	if err != nil {
		local = s.LocalAddr()
	}

	conn := NewTcpConnection(loop, connName, fd, local, peer)
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.connectEstablished)
}

// removeConnection is the TcpConnection closeCallback: it unregisters
// the connection on the base loop, then defers connectDestroyed onto
// the connection's own loop so the Channel survives its own dispatch.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.connections, conn.Name())
		s.mu.Unlock()
		conn.Loop().QueueInLoop(conn.connectDestroyed)
	})
}
