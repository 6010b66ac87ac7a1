package reactor

import (
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// InetAddress is the (ip, port) pair attached to a TcpConnection or
// Acceptor.
type InetAddress struct {
	IP   net.IP
	Port int
}

func (a InetAddress) String() string {
	if a.IP == nil {
		return ":" + strconv.Itoa(a.Port)
	}
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func sockaddrToInet(sa unix.Sockaddr) InetAddress {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return InetAddress{IP: net.IP(s.Addr[:]).To4(), Port: s.Port}
	case *unix.SockaddrInet6:
		return InetAddress{IP: net.IP(s.Addr[:]), Port: s.Port}
	default:
		return InetAddress{}
	}
}

func resolveToSockaddr(network, address string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		sa.Port = tcpAddr.Port
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	copy(sa.Addr[:], tcpAddr.IP.To16())
	sa.Port = tcpAddr.Port
	return &sa, nil
}

// newListeningSocket creates, binds, and listens on address, with
// SO_REUSEADDR always set and SO_REUSEPORT set when reusePort is true.
// The returned fd is non-blocking and close-on-exec.
func newListeningSocket(network, address string, reusePort bool) (int, InetAddress, error) {
	sa, err := resolveToSockaddr(network, address)
	if err != nil {
		return -1, InetAddress{}, err
	}
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, InetAddress{}, wrapSyscallErr("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, InetAddress{}, wrapSyscallErr("setsockopt(SO_REUSEADDR)", err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return -1, InetAddress{}, wrapSyscallErr("setsockopt(SO_REUSEPORT)", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, InetAddress{}, wrapSyscallErr("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, InetAddress{}, wrapSyscallErr("listen", err)
	}
	local, err := getLocalAddr(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, InetAddress{}, err
	}
	return fd, local, nil
}

// accept4NonBlocking wraps accept4(2) with SOCK_NONBLOCK|SOCK_CLOEXEC.
func accept4NonBlocking(listenFd int) (int, InetAddress, error) {
	connFd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	return connFd, sockaddrToInet(sa), nil
}

func getLocalAddr(fd int) (InetAddress, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return InetAddress{}, wrapSyscallErr("getsockname", err)
	}
	return sockaddrToInet(sa), nil
}

func getPeerAddr(fd int) (InetAddress, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return InetAddress{}, wrapSyscallErr("getpeername", err)
	}
	return sockaddrToInet(sa), nil
}

func closeFd(fd int) error {
	return wrapSyscallErr("close", unix.Close(fd))
}

func shutdownWrite(fd int) error {
	return wrapSyscallErr("shutdown", unix.Shutdown(fd, unix.SHUT_WR))
}

// setTcpNoDelay toggles TCP_NODELAY on fd.
func setTcpNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return wrapSyscallErr("setsockopt(TCP_NODELAY)", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

func setKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return wrapSyscallErr("setsockopt(SO_KEEPALIVE)", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v))
}

// getSocketError reads and clears SO_ERROR, used by both
// TcpConnection.handleError and Connector's post-connect verification.
func getSocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// newConnectingSocket creates a non-blocking socket and starts an
// asynchronous connect to address; callers select for writability and
// call getSocketError to find out whether it actually succeeded.
func newConnectingSocket(network, address string) (int, InetAddress, error) {
	sa, err := resolveToSockaddr(network, address)
	if err != nil {
		return -1, InetAddress{}, err
	}
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, InetAddress{}, wrapSyscallErr("socket", err)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, InetAddress{}, err
	}
	peer := sockaddrToInet(sa)
	if log.Debug().Enabled() {
		log.Debug().Int("fd", fd).Str("peer", peer.String()).Msg("connect() in progress")
	}
	return fd, peer, nil
}

// isSelfConnect detects the degenerate case where a non-blocking
// connect raced back onto a locally bound ephemeral port and ended up
// talking to itself.
func isSelfConnect(fd int) bool {
	local, err := getLocalAddr(fd)
	if err != nil {
		return false
	}
	peer, err := getPeerAddr(fd)
	if err != nil {
		return false
	}
	return local.Port == peer.Port && local.IP.Equal(peer.IP)
}
