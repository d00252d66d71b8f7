package resource

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultSampleInterval matches spec's "100ms cadence recommended, never on
// the hot path" guidance: sampling runs on a ticker and callers read the
// last-sampled snapshot via an atomically-swapped pointer.
const DefaultSampleInterval = 100 * time.Millisecond

// CountsFunc reports the Pool's current active/idle session counts. The
// Monitor calls this from its sampling loop rather than polling the Pool
// directly, mirroring the teacher's ActiveCount callback pattern.
type CountsFunc func() (active, idle int)

// Monitor samples process-wide memory/CPU on a ticker and serves the most
// recent reading from an atomically-swapped snapshot, so hot-path callers
// (admission checks, session creation) never block on sampling I/O.
type Monitor struct {
	thresholds Thresholds
	interval   time.Duration
	countsHook atomic.Value // CountsFunc

	current atomic.Pointer[Snapshot]
	health  *ComponentHealth
}

// NewMonitor constructs a Monitor with immutable admission thresholds.
func NewMonitor(thresholds Thresholds, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	m := &Monitor{
		thresholds: thresholds,
		interval:   interval,
		health:     NewComponentHealth(3),
	}
	m.current.Store(&Snapshot{SampledAt: time.Now()})
	return m
}

// SetCountsHook registers the function used to read session counts from the
// Pool during sampling. Safe to call before Start.
func (m *Monitor) SetCountsHook(fn CountsFunc) {
	m.countsHook.Store(fn)
}

// Health exposes the monitor's own sampling health for observability.
func (m *Monitor) Health() *ComponentHealth {
	return m.health
}

// Start runs the sampling loop until ctx is cancelled. Sampling failures are
// non-fatal: the last known snapshot is reused, per spec.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	prev := m.current.Load()
	next := &Snapshot{
		MemoryMB:   prev.MemoryMB,
		CPUPercent: prev.CPUPercent,
		SampledAt:  time.Now(),
	}

	if hook, ok := m.countsHook.Load().(CountsFunc); ok && hook != nil {
		next.ActiveSessions, next.IdleSessions = hook()
	} else {
		next.ActiveSessions, next.IdleSessions = prev.ActiveSessions, prev.IdleSessions
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		next.MemoryMB = float64(vm.Used) / (1024 * 1024)
		m.health.RecordSuccess()
	} else {
		log.Printf("[resource] memory sample failed, reusing last known value: %v", err)
		m.health.RecordFailure(err)
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		next.CPUPercent = pct[0]
		m.health.RecordSuccess()
	} else if err != nil {
		log.Printf("[resource] cpu sample failed, reusing last known value: %v", err)
		m.health.RecordFailure(err)
	}

	next.CapabilityProcessCount = prev.CapabilityProcessCount
	next.CapabilityMemoryMB = prev.CapabilityMemoryMB
	next.CapabilityCPUPercent = prev.CapabilityCPUPercent

	m.current.Store(next)
}

// Snapshot returns the most recently sampled counters. Never blocks on I/O.
func (m *Monitor) Snapshot() Snapshot {
	return *m.current.Load()
}

// UpdateCapabilityUsage records aggregate capability-server resource usage
// in the current snapshot; sample() carries these fields forward unchanged.
// No code in termvisord calls it.
func (m *Monitor) UpdateCapabilityUsage(processCount int, memoryMB, cpuPercent float64) {
	for {
		prev := m.current.Load()
		next := *prev
		next.CapabilityProcessCount = processCount
		next.CapabilityMemoryMB = memoryMB
		next.CapabilityCPUPercent = cpuPercent
		if m.current.CompareAndSwap(prev, &next) {
			return
		}
	}
}

// MayCreateSession is the admission predicate every session-creation path
// must consult before spawning or reusing a pty. Thresholds are immutable
// after construction.
func (m *Monitor) MayCreateSession() bool {
	snap := m.Snapshot()
	if m.thresholds.MaxSessions > 0 && snap.ActiveSessions >= m.thresholds.MaxSessions {
		return false
	}
	if m.thresholds.MaxMemoryMB > 0 && snap.MemoryMB >= m.thresholds.MaxMemoryMB {
		return false
	}
	if m.thresholds.MaxCPUPercent > 0 && snap.CPUPercent >= m.thresholds.MaxCPUPercent {
		return false
	}
	return true
}
