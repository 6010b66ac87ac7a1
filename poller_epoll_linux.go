package reactor

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollPoller is the kernel poller backend: it keeps an fd->Channel
// map plus an epoll instance, and grows its scratch events buffer
// geometrically (never shrinking below initEventListSize).
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
	chans  channelMap
}

func newEpollPoller() (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapSyscallErr("epoll_create1", err)
	}
	return &epollPoller{
		epfd:   fd,
		events: make([]unix.EpollEvent, initEventListSize),
		chans:  newChannelMap(),
	}, nil
}

func (p *epollPoller) Poll(timeoutMs int) ([]*Channel, int64, error) {
	n, err := epollWait(p.epfd, p.events, timeoutMs)
	pollTime := time.Now().UnixNano()
	if err != nil {
		if err == syscall.EINTR {
			return nil, pollTime, nil
		}
		logPollerErr("epoll_wait", err)
		return nil, pollTime, wrapSyscallErr("epoll_wait", err)
	}

	active := make([]*Channel, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		ch, ok := p.chans.get(fd)
		if !ok {
			// Descriptor fired after it was already deleted; ignore.
			continue
		}
		ch.SetRevents(pollEventsFromEpoll(ev.Events))
		active = append(active, ch)
	}

	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return active, pollTime, nil
}

func (p *epollPoller) UpdateChannel(ch *Channel) error {
	fd := ch.Fd()
	switch ch.State() {
	case channelNew, channelDeleted:
		if ch.State() == channelNew {
			p.chans.set(fd, ch)
		}
		ch.SetState(channelAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, ch)
	default: // channelAdded
		if ch.IsNoneEvent() {
			if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
				return err
			}
			ch.SetState(channelDeleted)
			return nil
		}
		return p.ctl(unix.EPOLL_CTL_MOD, ch)
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) error {
	fd := ch.Fd()
	if !ch.IsNoneEvent() {
		panic(errChannelStillInterested)
	}
	if ch.State() == channelAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
			return err
		}
	}
	p.chans.delete(fd)
	ch.SetState(channelNew)
	return nil
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.chans.get(ch.Fd())
	return ok && found == ch
}

func (p *epollPoller) Close() error {
	return wrapSyscallErr("close", unix.Close(p.epfd))
}

func (p *epollPoller) ctl(op int, ch *Channel) error {
	ev := &unix.EpollEvent{Fd: int32(ch.Fd()), Events: epollEventsFromPoll(ch.Events())}
	opName := map[int]string{unix.EPOLL_CTL_ADD: "add", unix.EPOLL_CTL_MOD: "mod", unix.EPOLL_CTL_DEL: "del"}[op]
	if log.Debug().Enabled() {
		log.Debug().Int("fd", ch.Fd()).Str("op", opName).Msg("epoll_ctl")
	}
	var evArg *unix.EpollEvent = ev
	if op == unix.EPOLL_CTL_DEL {
		evArg = nil
	}
	if err := unix.EpollCtl(p.epfd, op, ch.Fd(), evArg); err != nil {
		return wrapSyscallErr("epoll_ctl "+opName, err)
	}
	return nil
}

// epollEventsFromPoll translates our poll(2)-shaped interest bits into
// the epoll bits. It adds no hangup or error bits: epoll reports
// EPOLLHUP and EPOLLERR without being asked.
func epollEventsFromPoll(ev uint32) uint32 {
	var out uint32
	if ev&unix.POLLIN != 0 {
		out |= unix.EPOLLIN
	}
	if ev&unix.POLLPRI != 0 {
		out |= unix.EPOLLPRI
	}
	if ev&unix.POLLOUT != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func pollEventsFromEpoll(ev uint32) uint32 {
	var out uint32
	if ev&unix.EPOLLIN != 0 {
		out |= unix.POLLIN
	}
	if ev&unix.EPOLLPRI != 0 {
		out |= unix.POLLPRI
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= unix.POLLOUT
	}
	if ev&unix.EPOLLERR != 0 {
		out |= unix.POLLERR
	}
	if ev&unix.EPOLLHUP != 0 {
		out |= unix.POLLHUP
	}
	if ev&unix.EPOLLRDHUP != 0 {
		out |= unix.POLLRDHUP
	}
	return out
}

// epollWait calls epoll_pwait directly via RawSyscall6 with a zero
// timeout to avoid a signal-mask argument allocation on the hot path,
// falling back to the blocking Syscall6 form otherwise.
func epollWait(epfd int, events []unix.EpollEvent, msec int) (n int, err error) {
	var r0 uintptr
	var p0 = unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = syscall.RawSyscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = syscall.Syscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == syscall.Errno(0) {
		err = nil
	}
	return int(r0), err
}
