package reactor

import "go.uber.org/atomic"

// ConnectionStats tracks one TcpConnection's send/receive byte and
// message counts. Safe for concurrent use: it is updated from the
// connection's own loop thread and may be read from any thread.
type ConnectionStats struct {
	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64
	messagesIn    atomic.Uint64
	messagesOut   atomic.Uint64
}

func (s *ConnectionStats) recordRead(n int) {
	s.bytesReceived.Add(uint64(n))
	s.messagesIn.Inc()
}

func (s *ConnectionStats) recordWrite(n int) {
	s.bytesSent.Add(uint64(n))
	s.messagesOut.Inc()
}

func (s *ConnectionStats) BytesReceived() uint64 { return s.bytesReceived.Load() }
func (s *ConnectionStats) BytesSent() uint64     { return s.bytesSent.Load() }
func (s *ConnectionStats) MessagesIn() uint64     { return s.messagesIn.Load() }
func (s *ConnectionStats) MessagesOut() uint64    { return s.messagesOut.Load() }

// LoopStats aggregates counters across every connection a worker loop
// is currently driving.
type LoopStats struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Uint64
	totalBytesIn       atomic.Uint64
	totalBytesOut      atomic.Uint64
}

func (s *LoopStats) connectionOpened() {
	s.activeConnections.Inc()
	s.totalConnections.Inc()
}

func (s *LoopStats) connectionClosed() {
	s.activeConnections.Dec()
}

func (s *LoopStats) addBytesIn(n int)  { s.totalBytesIn.Add(uint64(n)) }
func (s *LoopStats) addBytesOut(n int) { s.totalBytesOut.Add(uint64(n)) }

func (s *LoopStats) ActiveConnections() int64 { return s.activeConnections.Load() }
func (s *LoopStats) TotalConnections() uint64  { return s.totalConnections.Load() }
func (s *LoopStats) TotalBytesIn() uint64      { return s.totalBytesIn.Load() }
func (s *LoopStats) TotalBytesOut() uint64     { return s.totalBytesOut.Load() }
