package reactor

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const defaultRlimitNofile = 65536

// RaiseFileDescriptorLimit bumps RLIMIT_NOFILE up to want (or the
// process's hard limit, whichever is lower). A reactor that fans
// connections out across a worker pool burns descriptors fast; callers
// should invoke this once at startup, before listening.
func RaiseFileDescriptorLimit(want uint64) {
	if want == 0 {
		want = defaultRlimitNofile
	}

	var cur unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &cur); err != nil {
		log.Error().Err(err).Msg("RaiseFileDescriptorLimit: getrlimit failed")
		return
	}

	target := want
	if target > cur.Max {
		target = cur.Max
	}
	if target <= cur.Cur {
		return
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: target, Max: cur.Max}); err != nil {
		log.Error().Err(err).Uint64("want", target).Msg("RaiseFileDescriptorLimit: setrlimit failed")
	}
}
