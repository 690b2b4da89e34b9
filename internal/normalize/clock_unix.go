//go:build linux || darwin || freebsd || netbsd || openbsd

package normalize

import "golang.org/x/sys/unix"

func platformMonotonicMillis() (uint64, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, false
	}
	return uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1_000_000, true
}
