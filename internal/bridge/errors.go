package bridge

import "errors"

// Error taxonomy for process_ai_command outcomes (spec.md §7).
var (
	ErrNoMatch          = errors.New("bridge: no capability matches intent")
	ErrInvalidArguments = errors.New("bridge: missing required argument")
	ErrTimeout          = errors.New("bridge: capability call timed out")
	ErrUnhealthy        = errors.New("bridge: matched server is not running")
)
