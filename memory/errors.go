package memory

import "errors"

// Wire-stable memory error kinds. The exact strings are part of the
// caller-visible API and must not change.
var (
	// ErrOutOfMemory reports that no bucket could hold a new chunk and
	// both the channel and bucket limits are exhausted.
	ErrOutOfMemory = errors.New("Out of memory.")

	// ErrBrokenTrace reports a chain whose links no longer decode.
	ErrBrokenTrace = errors.New("Broken memory trace.")

	// ErrInvalidAddress reports a chain hop that cannot be fetched.
	ErrInvalidAddress = errors.New("Invalid memory address.")
)
