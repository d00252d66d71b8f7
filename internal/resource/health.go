package resource

import (
	"sync"
	"time"
)

// Status is a component's health as seen by observers (spec.md §7:
// Unhealthy is surfaced to observers, never to command callers).
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// ComponentHealth tracks consecutive failures for one component and derives
// a Status from a configurable threshold. Generalized from the teacher's
// per-source health tracker to a per-component one. In termvisord the
// Monitor's own sampling is the only component that feeds one.
type ComponentHealth struct {
	mu                sync.Mutex
	threshold         int
	consecutiveFails  int
	lastErr           string
	lastFailAt        time.Time
	lastEmittedStatus Status
	lastEmittedAt     time.Time
}

// NewComponentHealth builds a tracker that reports StatusFailed once
// consecutive failures reach threshold.
func NewComponentHealth(threshold int) *ComponentHealth {
	if threshold <= 0 {
		threshold = 3
	}
	return &ComponentHealth{
		threshold:         threshold,
		lastEmittedStatus: StatusHealthy,
	}
}

// RecordSuccess resets the consecutive failure counter.
func (h *ComponentHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFails = 0
	h.lastErr = ""
}

// RecordFailure increments the consecutive failure counter.
func (h *ComponentHealth) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFails++
	h.lastFailAt = time.Now()
	if err != nil {
		h.lastErr = err.Error()
	}
}

// Status computes the current health status.
func (h *ComponentHealth) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *ComponentHealth) statusLocked() Status {
	if h.consecutiveFails >= h.threshold {
		return StatusFailed
	}
	if h.consecutiveFails > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// SnapshotAndEmit returns the current status, last error string, and whether
// the status has changed since the last call to SnapshotAndEmit, so a
// caller can dedup alerts. termvisord's health hook reports status and
// lastErr and ignores the changed flag.
func (h *ComponentHealth) SnapshotAndEmit() (status Status, lastErr string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = h.statusLocked()
	changed = status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = status
		h.lastEmittedAt = time.Now()
	}
	lastErr = h.lastErr
	return
}

// LastError returns the most recent failure's error string.
func (h *ComponentHealth) LastError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}
