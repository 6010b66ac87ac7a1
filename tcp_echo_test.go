package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServerLoop runs an EventLoop in its own goroutine and returns it
// once the goroutine has finished constructing it, mirroring
// startTestLoop's construction-binds-to-goroutine discipline.
func startServerLoop(t *testing.T) *EventLoop {
	t.Helper()
	started := make(chan *EventLoop, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		loop, err := NewEventLoop(EventLoopConfig{PollTimeout: 50 * time.Millisecond})
		if err != nil {
			errs <- err
			started <- nil
			return
		}
		started <- loop
		loop.Loop()
		close(done)
	}()
	loop := <-started
	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
	t.Cleanup(func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not exit after Quit")
		}
	})
	return loop
}

func TestTcpServerEchoesToClient(t *testing.T) {
	serverLoop := startServerLoop(t)
	clientLoop := startServerLoop(t)

	server, err := NewTcpServer(serverLoop, "127.0.0.1:0", "echo-test", NoReusePort)
	require.NoError(t, err)
	server.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ int64) {
		conn.Send(buf.Peek())
		buf.RetrieveAll()
	})
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	client, err := NewTcpClient(clientLoop, "tcp", server.LocalAddr().String(), "echo-client-test")
	require.NoError(t, err)

	connected := make(chan *TcpConnection, 1)
	replies := make(chan string, 4)
	client.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			connected <- conn
		}
	})
	client.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ int64) {
		replies <- buf.RetrieveAllAsString()
	})
	client.Connect()
	t.Cleanup(client.Stop)

	var conn *TcpConnection
	select {
	case conn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	conn.SendString("hello reactor")
	select {
	case reply := <-replies:
		assert.Equal(t, "hello reactor", reply)
	case <-time.After(2 * time.Second):
		t.Fatal("never received echo reply")
	}

	conn.SendString("second message")
	select {
	case reply := <-replies:
		assert.Equal(t, "second message", reply)
	case <-time.After(2 * time.Second):
		t.Fatal("never received second echo reply")
	}
}

func TestTcpServerTracksConnectionsAcrossClose(t *testing.T) {
	serverLoop := startServerLoop(t)
	clientLoop := startServerLoop(t)

	server, err := NewTcpServer(serverLoop, "127.0.0.1:0", "close-test", NoReusePort)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	client, err := NewTcpClient(clientLoop, "tcp", server.LocalAddr().String(), "close-client-test")
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	disconnected := make(chan struct{}, 1)
	client.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			connected <- struct{}{}
		} else {
			disconnected <- struct{}{}
		}
	})
	client.Connect()
	t.Cleanup(client.Stop)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	serverLoop.RunInLoop(func() {
		assert.Equal(t, int64(1), serverLoop.Stats().ActiveConnections())
	})

	client.Disconnect()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed disconnect")
	}

	deadline := time.After(2 * time.Second)
	for {
		done := make(chan bool, 1)
		serverLoop.RunInLoop(func() {
			done <- serverLoop.Stats().ActiveConnections() == 0
		})
		select {
		case ok := <-done:
			if ok {
				return
			}
		case <-deadline:
			t.Fatal("server never observed the connection closing")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
