package terminal

import "errors"

// Sentinel errors matching the command-surface taxonomy in spec.md §7.
var (
	ErrAtCapacity   = errors.New("terminal: at capacity")
	ErrNotFound     = errors.New("terminal: session not found")
	ErrSpawnFailed  = errors.New("terminal: spawn failed")
	ErrWriteFailed  = errors.New("terminal: write failed")
	ErrOutOfRange   = errors.New("terminal: value out of range")
)
