package reactor

import (
	"os/signal"
	"syscall"
)

// IgnoreSigpipe masks SIGPIPE process-wide: a reactor that writes to a
// half-closed peer socket must see that as an EPIPE return from
// write(2), not process termination. Callers embedding this package
// should invoke this once at startup.
func IgnoreSigpipe() {
	signal.Ignore(syscall.SIGPIPE)
}
