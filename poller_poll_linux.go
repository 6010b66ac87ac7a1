package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable Poller backend, selected when
// MUDUO_USE_POLL is set. It keeps a parallel array of unix.PollFd
// entries next to the fd->Channel map; poll(2) itself returns events
// unsorted, in array order, and removal is swap-and-pop.
type pollPoller struct {
	pollfds []unix.PollFd
	// index of each fd's entry in pollfds, so update/remove don't scan.
	indexOf map[int]int
	chans   channelMap
}

func newPollPoller() (*pollPoller, error) {
	return &pollPoller{
		indexOf: make(map[int]int),
		chans:   newChannelMap(),
	}, nil
}

func (p *pollPoller) Poll(timeoutMs int) ([]*Channel, int64, error) {
	if len(p.pollfds) == 0 {
		// unix.Poll with an empty slice still blocks for timeoutMs, which
		// is what an idle loop with no descriptors wants.
		time.Sleep(time.Duration(clampTimeout(timeoutMs)) * time.Millisecond)
		return nil, time.Now().UnixNano(), nil
	}

	n, err := unix.Poll(p.pollfds, timeoutMs)
	pollTime := time.Now().UnixNano()
	if err != nil {
		if err == unix.EINTR {
			return nil, pollTime, nil
		}
		logPollerErr("poll", err)
		return nil, pollTime, wrapSyscallErr("poll", err)
	}
	if n <= 0 {
		return nil, pollTime, nil
	}

	active := make([]*Channel, 0, n)
	for _, pfd := range p.pollfds {
		if pfd.Revents == 0 {
			continue
		}
		ch, ok := p.chans.get(int(pfd.Fd))
		if !ok {
			continue
		}
		ch.SetRevents(uint32(pfd.Revents))
		active = append(active, ch)
	}
	return active, pollTime, nil
}

func (p *pollPoller) UpdateChannel(ch *Channel) error {
	fd := ch.Fd()
	if ch.State() == channelNew {
		p.chans.set(fd, ch)
		p.indexOf[fd] = len(p.pollfds)
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(fd), Events: int16(ch.Events())})
		ch.SetState(channelAdded)
		return nil
	}
	idx, ok := p.indexOf[fd]
	if !ok {
		return errNoSuchChannel
	}
	p.pollfds[idx].Events = int16(ch.Events())
	p.pollfds[idx].Revents = 0
	if ch.IsNoneEvent() {
		// Keep the entry polled but uninterested; a real negative fd
		// would make the kernel ignore it, but we simply rely on the
		// zero event mask like muduo's PollPoller::fillPollfd does.
		p.pollfds[idx].Events = 0
	}
	return nil
}

func (p *pollPoller) RemoveChannel(ch *Channel) error {
	fd := ch.Fd()
	if !ch.IsNoneEvent() {
		panic(errChannelStillInterested)
	}
	idx, ok := p.indexOf[fd]
	if !ok {
		return errNoSuchChannel
	}
	last := len(p.pollfds) - 1
	if idx != last {
		p.pollfds[idx] = p.pollfds[last]
		p.indexOf[int(p.pollfds[idx].Fd)] = idx
	}
	p.pollfds = p.pollfds[:last]
	delete(p.indexOf, fd)
	p.chans.delete(fd)
	ch.SetState(channelNew)
	return nil
}

func (p *pollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.chans.get(ch.Fd())
	return ok && found == ch
}

func (p *pollPoller) Close() error { return nil }

func clampTimeout(ms int) int {
	if ms < 0 {
		return 10_000
	}
	return ms
}
