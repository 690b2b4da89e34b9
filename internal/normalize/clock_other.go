//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package normalize

func platformMonotonicMillis() (uint64, bool) {
	return 0, false
}
