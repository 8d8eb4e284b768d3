//go:build linux || darwin

package cache

import (
	"math"

	"golang.org/x/sys/unix"
)

// processCeiling reads the address-space limit of the process.
func processCeiling() (int64, bool) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &rl); err != nil {
		return 0, false
	}
	// Unlimited is all ones on linux and MaxInt64 on darwin.
	if rl.Cur >= math.MaxInt64 {
		return 0, false
	}
	return int64(rl.Cur), true
}
