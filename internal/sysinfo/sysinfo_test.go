package sysinfo

import "testing"

func TestSampleDoesNotPanic(t *testing.T) {
	// Output is host-dependent; the contract under test is just that
	// reading the current process never panics or blocks.
	_ = Sample()
}
