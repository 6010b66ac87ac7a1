package reactor

import (
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

func createTimerFd() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, wrapSyscallErr("timerfd_create", err)
	}
	return fd, nil
}

// minTimerDelay is a floor on reprogramming delay: reprogramming a
// timerfd with zero delay would disarm it, so anything due within this
// window is clamped up to it instead.
const minTimerDelay = 100 * time.Microsecond

// resetTimerFd reprograms the kernel timer descriptor so it next fires
// at expirationUnixNano. Passing disarm=true sets an all-zero itimerspec
// to explicitly disarm it: an empty queue must disarm, not leave a
// stale value armed.
func resetTimerFd(fd int, expirationUnixNano int64, disarm bool) {
	var newValue unix.ItimerSpec
	if !disarm {
		delay := time.Duration(expirationUnixNano - time.Now().UnixNano())
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		newValue.Value.Sec = int64(delay / time.Second)
		newValue.Value.Nsec = int64(delay % time.Second)
	}
	if err := unix.TimerfdSettime(fd, 0, &newValue, nil); err != nil {
		log.Error().Err(err).Msg("timerfd_settime failed, timer queue will self-recover on next insert")
	}
}

// readTimerFd drains the 8-byte expiration counter so level-triggered
// readiness does not keep firing for the same expiration.
func readTimerFd(fd int) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 8 {
		log.Error().Err(err).Int("n", n).Msg("TimerQueue.handleRead() read unexpected byte count from timerfd")
	}
}
