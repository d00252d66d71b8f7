// Package resource tracks process-wide memory/CPU/session counters and
// answers the admission question the terminal Pool defers to before
// creating or reusing a terminal session.
package resource

import "time"

// Snapshot is a point-in-time read of process-wide resource counters.
type Snapshot struct {
	ActiveSessions int
	IdleSessions   int
	MemoryMB       float64
	CPUPercent     float64

	CapabilityProcessCount int
	CapabilityMemoryMB     float64
	CapabilityCPUPercent   float64

	SampledAt time.Time
}

// Thresholds are the admission limits read once at construction and never
// mutated afterward.
type Thresholds struct {
	MaxSessions   int
	MaxMemoryMB   float64
	MaxCPUPercent float64
}
