package capability

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"
)

// StartHealthCheck schedules the Manager's health sweep on the given cron
// instance (spec.md §4.6, "cadence 30 s"), sharing one cron.Cron with
// internal/project's purge job rather than a standalone ticker.
func StartHealthCheck(c *cron.Cron, m *Manager, interval string) (cron.EntryID, error) {
	if interval == "" {
		interval = "@every 30s"
	}
	return c.AddFunc(interval, func() {
		m.healthSweep(context.Background())
	})
}

// healthSweep verifies every Running instance's pid is alive, restarting
// dead ones with exponential backoff when AutoRestart is set, and enforces
// the per-server resource limits (spec.md §4.6 health check + resource
// enforcement).
func (m *Manager) healthSweep(ctx context.Context) {
	for _, inst := range m.AllInstances() {
		if inst.Status() != StatusRunning {
			continue
		}

		pid := inst.pid()
		if pid == 0 || !processAlive(pid) {
			m.handleDeadInstance(ctx, inst)
			continue
		}

		inst.markHealthy()
		m.enforceResourceLimits(inst, pid)
	}
}

func processAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

func (m *Manager) handleDeadInstance(ctx context.Context, inst *Instance) {
	inst.mu.Lock()
	inst.status = StatusFailed
	inst.mu.Unlock()

	if !m.cfg.AutoRestart {
		m.retireInstance(inst)
		return
	}

	backoff := inst.nextBackoff()
	log.Printf("[capability] %s on %s died, restarting in %s", inst.ServerID, inst.ProjectPath, backoff)

	go func() {
		<-time.After(backoff)
		startCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
		defer cancel()
		if err := inst.start(startCtx, inst.ProjectPath); err != nil {
			log.Printf("[capability] restart failed for %s on %s: %v", inst.ServerID, inst.ProjectPath, err)
		}
	}()
}

// enforceResourceLimits stops an instance whose usage breaches its
// advisory limits (spec.md §4.6 resource enforcement). Enforcement is
// best-effort: failure to sample never crashes the sweep.
func (m *Manager) enforceResourceLimits(inst *Instance, pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}

	memInfo, memErr := proc.MemoryInfo()
	cpuPct, cpuErr := proc.CPUPercent()

	var memoryMB float64
	if memErr == nil && memInfo != nil {
		memoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}

	fds := 0
	if numFDs, err := proc.NumFDs(); err == nil {
		fds = int(numFDs)
	}

	inst.recordUsage(memoryMB, cpuPct, fds)

	breached := (m.cfg.MaxMemoryMB > 0 && memoryMB > m.cfg.MaxMemoryMB) ||
		(m.cfg.MaxCPUPercent > 0 && cpuErr == nil && cpuPct > m.cfg.MaxCPUPercent) ||
		(m.cfg.MaxFileDescriptors > 0 && fds > m.cfg.MaxFileDescriptors)

	if breached {
		log.Printf("[capability] %s on %s breached resource limits (mem=%.1fMB cpu=%.1f%% fds=%d), stopping",
			inst.ServerID, inst.ProjectPath, memoryMB, cpuPct, fds)
		inst.stop(m.cfg.ShutdownGrace)
		inst.mu.Lock()
		inst.status = StatusFailed
		inst.mu.Unlock()
		// Resource-breach stops are never retried; the instance would
		// otherwise occupy its MaxConcurrentServers slot forever.
		m.retireInstance(inst)
	}
}
