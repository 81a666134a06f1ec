//go:build linux

package registration

import (
	"golang.org/x/sys/unix"
)

// kernelRelease reads the running kernel release string via uname(2)
// for the "vm-info" host fingerprint.
func kernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return charsToString(uts.Release[:])
}

func charsToString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
