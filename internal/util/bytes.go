// Package util holds the symmetric sealing primitives used to protect
// secrets at rest.
package util

// WipeBytes best-effort zeroes the provided byte slice in place.
func WipeBytes(b []byte) {
	clear(b)
}
