package reactor

import (
	"testing"

	"golang.org/x/sys/unix"
)

// pipeFds returns a blocking, close-on-exec pipe(2) pair usable by
// readv/writev tests without needing a real socket.
func pipeFds(t *testing.T) (r, w int, err error) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func writeAll(fd int, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := unix.Write(fd, data[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
