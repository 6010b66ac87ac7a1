package reactor

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives an accepted connection's fd and peer
// address. The Acceptor hands off ownership of fd; the callback (or
// whatever it delegates to) is responsible for eventually closing it.
type NewConnectionCallback func(fd int, peer InetAddress)

// Acceptor owns a listening socket and Channel. It lives on one
// EventLoop (normally a TcpServer's base loop) and hands accepted
// connections off via NewConnectionCallback.
type Acceptor struct {
	loop      *EventLoop
	listenFd  int
	localAddr InetAddress
	channel   *Channel

	newConnectionCallback NewConnectionCallback
	listening              bool

	// idleFd is the spare descriptor reserved for EMFILE recovery:
	// opened once at construction so there is always one fd in hand to
	// close and immediately reopen around a harvest-accept.
	idleFd int
}

// NewAcceptor creates the socket, binds it to address and puts it in the
// listening state; Listen only enables reading on its Channel, so
// connections that arrive before Listen wait in the kernel backlog.
func NewAcceptor(loop *EventLoop, address string, reusePort bool) (*Acceptor, error) {
	fd, local, err := newListeningSocket("tcp", address, reusePort)
	if err != nil {
		return nil, err
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = closeFd(fd)
		return nil, wrapSyscallErr("open /dev/null", err)
	}

	a := &Acceptor{
		loop:      loop,
		listenFd:  fd,
		localAddr: local,
		idleFd:    idleFd,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(func(int64) { a.handleRead() })
	return a, nil
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

func (a *Acceptor) LocalAddr() InetAddress { return a.localAddr }

// Listen enables reading on the listening socket's Channel. Must run on
// the owning loop's thread.
func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	if a.listening {
		panic(errAlreadyListening)
	}
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) Listening() bool { return a.listening }

func (a *Acceptor) handleRead() {
	a.loop.assertInLoopThread()

	fd, peer, err := accept4NonBlocking(a.listenFd)
	if err != nil {
		a.handleAcceptError(err)
		return
	}

	if a.newConnectionCallback != nil {
		a.newConnectionCallback(fd, peer)
	} else {
		_ = closeFd(fd)
	}
}

func (a *Acceptor) handleAcceptError(err error) {
	errno, ok := err.(unix.Errno)
	if !ok {
		log.Error().Err(err).Msg("Acceptor.handleRead() accept4 failed")
		return
	}

	switch errno {
	case unix.EAGAIN, unix.ECONNABORTED, unix.EINTR, unix.EPROTO, unix.EPERM:
		// Expected, transient; try again on the next readiness event.
		return
	case unix.EMFILE:
		a.recoverFromEMFILE()
	case unix.ENFILE, unix.ENOMEM, unix.ENOBUFS:
		log.Fatal().Err(err).Msg("Acceptor.handleRead() unrecoverable accept4 failure")
	default:
		log.Fatal().Err(err).Msg("Acceptor.handleRead() unexpected accept4 errno")
	}
}

// recoverFromEMFILE handles process-wide fd exhaustion: give up the
// idle spare, accept the pending connection just to immediately close
// it (freeing the caller's backlog slot), then reclaim an idle spare
// for next time.
func (a *Acceptor) recoverFromEMFILE() {
	_ = closeFd(a.idleFd)
	fd, _, err := unix.Accept4(a.listenFd, unix.SOCK_CLOEXEC)
	if err == nil {
		_ = unix.Close(fd)
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Error().Err(err).Msg("Acceptor could not reopen idle fd after EMFILE recovery")
		a.idleFd = -1
		return
	}
	a.idleFd = idleFd
}

// Close disables the Channel, removes it, and closes both descriptors.
// Must run on the owning loop's thread.
func (a *Acceptor) Close() {
	a.loop.assertInLoopThread()
	a.channel.DisableAll()
	a.channel.Remove()
	_ = closeFd(a.listenFd)
	if a.idleFd >= 0 {
		_ = closeFd(a.idleFd)
	}
}
