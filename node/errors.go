package node

import "errors"

// Sentinel error kinds, checked with errors.Is by callers that need to
// distinguish failure categories (§7).
var (
	// ErrArgument marks an out-of-range channel count, invalid port index,
	// or self-connection attempt.
	ErrArgument = errors.New("argument error")
	// ErrDisposed marks use of a disposed node.
	ErrDisposed = errors.New("already disposed")
	// ErrCycle marks a cycle detected at process time.
	ErrCycle = errors.New("graph cycle")
)
