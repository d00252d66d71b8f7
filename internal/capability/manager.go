package capability

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ProjectContext is the slice of a project analysis the Manager needs to
// score and activate servers (spec.md §4.6 step 1).
type ProjectContext struct {
	Path            string
	PrimaryLanguage string
	Frameworks      []string
	ProjectType     string
}

// Config governs the Manager's concurrency caps and lifecycle timings
// (spec.md §4.6).
type Config struct {
	MaxConcurrentServers int
	MaxServersPerProject int
	StartupTimeout       time.Duration
	ShutdownGrace        time.Duration
	AutoRestart          bool
	MaxMemoryMB          float64
	MaxCPUPercent        float64
	MaxFileDescriptors   int
}

func instanceKey(serverID, projectPath string) string {
	return serverID + "|" + projectPath
}

// Manager tracks the discovered server registry and the live instance
// table, enforcing the concurrent-activation cap and per-project selection
// (spec.md §4.6).
type Manager struct {
	cfg      Config
	registry []*Manifest

	mu        sync.RWMutex
	instances map[string]*Instance
	running   int
}

// NewManager builds a Manager from a discovered manifest registry.
func NewManager(cfg Config, registry []*Manifest) *Manager {
	if cfg.MaxConcurrentServers <= 0 {
		cfg.MaxConcurrentServers = 10
	}
	if cfg.MaxServersPerProject <= 0 {
		cfg.MaxServersPerProject = cfg.MaxConcurrentServers / 2
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		instances: make(map[string]*Instance),
	}
}

type scored struct {
	manifest *Manifest
	score    float64
}

// scoreManifest applies spec.md §4.6 step 1's weighting: language match 1.0,
// per-framework match 0.5 each, project-type match 0.3.
func scoreManifest(m *Manifest, pc ProjectContext) float64 {
	score := 0.0

	for _, lang := range m.ApplicableLanguages {
		if lang == pc.PrimaryLanguage {
			score += 1.0
			break
		}
	}
	for _, fw := range m.ApplicableFrameworks {
		for _, pfw := range pc.Frameworks {
			if fw == pfw {
				score += 0.5
			}
		}
	}
	for _, pt := range m.ApplicableProjectTypes {
		if pt == pc.ProjectType {
			score += 0.3
			break
		}
	}

	return score
}

// SelectCandidates scores and ranks the registry against pc, returning the
// top MaxServersPerProject entries with nonzero score (spec.md §4.6
// steps 1-2).
func (m *Manager) SelectCandidates(pc ProjectContext) []*Manifest {
	var candidates []scored
	for _, manifest := range m.registry {
		s := scoreManifest(manifest, pc)
		if s > 0 {
			candidates = append(candidates, scored{manifest, s})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	limit := m.cfg.MaxServersPerProject
	if limit > len(candidates) {
		limit = len(candidates)
	}

	top := make([]*Manifest, limit)
	for i := 0; i < limit; i++ {
		top[i] = candidates[i].manifest
	}
	return top
}

// Activate selects and starts (or refcounts) servers for a project
// (spec.md §4.6 steps 2-4). Selections beyond the global concurrency cap
// are logged and skipped, not retried.
func (m *Manager) Activate(ctx context.Context, pc ProjectContext) ([]*Instance, error) {
	candidates := m.SelectCandidates(pc)
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	var activated []*Instance
	for _, manifest := range candidates {
		inst, err := m.activateOne(ctx, manifest, pc.Path)
		if err != nil {
			log.Printf("[capability] activation skipped for %s on %s: %v", manifest.ID, pc.Path, err)
			continue
		}
		activated = append(activated, inst)
	}

	if len(activated) == 0 {
		return nil, ErrAtCapacity
	}
	return activated, nil
}

func (m *Manager) activateOne(ctx context.Context, manifest *Manifest, projectPath string) (*Instance, error) {
	key := instanceKey(manifest.ID, projectPath)

	m.mu.Lock()
	inst, exists := m.instances[key]
	if exists && inst.alive() {
		inst.incref()
		m.mu.Unlock()
		return inst, nil
	}
	if m.running >= m.cfg.MaxConcurrentServers {
		m.mu.Unlock()
		return nil, ErrAtCapacity
	}
	inst = newInstance(manifest.ID, projectPath, manifest)
	m.instances[key] = inst
	m.running++
	m.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	if err := inst.start(startCtx, projectPath); err != nil {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	inst.incref()
	return inst, nil
}

// Deactivate decrements the refcount on each instance, stopping any that
// reach zero (spec.md §4.6 deactivation).
func (m *Manager) Deactivate(instances []*Instance) {
	for _, inst := range instances {
		if inst.decref() {
			inst.stop(m.cfg.ShutdownGrace)
			m.mu.Lock()
			if m.running > 0 {
				m.running--
			}
			m.mu.Unlock()
		}
	}
}

// retireInstance removes a Failed instance that will not be respawned from
// both the running count and the instance table, so it no longer occupies
// a permanent slot against MaxConcurrentServers (spec.md §4.6 cap).
func (m *Manager) retireInstance(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instanceKey(inst.ServerID, inst.ProjectPath)
	if existing, ok := m.instances[key]; ok && existing == inst {
		delete(m.instances, key)
	}
	if m.running > 0 {
		m.running--
	}
}

// RunningCount reports the number of instances currently counted against
// the concurrency cap.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Instance looks up a specific (server, project) instance.
func (m *Manager) Instance(serverID, projectPath string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[instanceKey(serverID, projectPath)]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// AllInstances returns a snapshot slice of every tracked instance.
func (m *Manager) AllInstances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}
