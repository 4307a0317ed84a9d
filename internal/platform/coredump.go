// Package platform holds OS-level hardening used by the binaries.
package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps zeroes the core rlimit so derived keys and plaintext
// vault contents cannot end up in a core file.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
