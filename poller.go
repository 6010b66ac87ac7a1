package reactor

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Poller is the abstraction over a readiness multiplexer. Two concrete
// backends satisfy it: epollPoller (the kernel poller, default) and
// pollPoller (selected via MUDUO_USE_POLL).
type Poller interface {
	// Poll blocks for at most timeoutMs milliseconds and returns the
	// Channels that became ready, along with the time the syscall
	// returned (Unix nanoseconds).
	Poll(timeoutMs int) (active []*Channel, pollTimeUnixNano int64, err error)
	UpdateChannel(ch *Channel) error
	RemoveChannel(ch *Channel) error
	HasChannel(ch *Channel) bool
	Close() error
}

// channelMap is the fd -> *Channel registry shared by both backends.
// It has no synchronization because it is only ever touched from the
// owning loop's thread.
type channelMap struct {
	byFd map[int]*Channel
}

func newChannelMap() channelMap {
	return channelMap{byFd: make(map[int]*Channel)}
}

func (m *channelMap) get(fd int) (*Channel, bool) {
	ch, ok := m.byFd[fd]
	return ch, ok
}

func (m *channelMap) set(fd int, ch *Channel) {
	m.byFd[fd] = ch
}

func (m *channelMap) delete(fd int) {
	delete(m.byFd, fd)
}

func wrapSyscallErr(call string, err error) error {
	if err == nil {
		return nil
	}
	return os.NewSyscallError(call, err)
}

func logPollerErr(call string, err error) {
	log.Error().Err(err).Str("syscall", call).Msg("poller syscall failed")
}
