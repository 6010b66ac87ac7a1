// Package reactor is a single-host, multi-threaded reactor for TCP
// services on Linux: one EventLoop per OS thread, a Poller over epoll
// or poll(2), a TimerQueue driven by a kernel timer descriptor, and a
// TcpServer/TcpClient pair built on top of the connection lifecycle
// state machine.
package reactor
