package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// newWakeupFd creates the eventfd used to pull an EventLoop out of a
// blocked Poll() call from another thread.
func newWakeupFd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, wrapSyscallErr("eventfd", err)
	}
	return fd, nil
}

func wakeupWrite(fd int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil {
		logPollerErr("eventfd write", err)
	}
}

func wakeupRead(fd int) {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		logPollerErr("eventfd read", err)
	}
}
