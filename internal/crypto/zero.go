package crypto

// Zero overwrites key material in memory with zeros. Best effort only; the
// runtime may have copied the slice during GC.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
