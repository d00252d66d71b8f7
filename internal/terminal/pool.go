package terminal

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aegntic/termvisor/internal/resource"
)

// Config governs Pool behavior (spec.md §4.5, §6 default keys).
type Config struct {
	MaxTerminals            int
	IdleTimeout             time.Duration
	PreallocPoolSize        int
	MaintenanceInterval     time.Duration
	ScrollbackLines         int
	FreshnessWindow         time.Duration
	CreateTimeout           time.Duration
	AttentionConfidenceFloor float64
}

// Pool creates, attaches, detaches, and destroys Sessions while enforcing
// global resource limits and maximizing idle reuse (spec.md §4.5).
type Pool struct {
	cfg     Config
	monitor *resource.Monitor
	tmux    *TmuxResolver

	activeMu sync.RWMutex
	active   map[uuid.UUID]*Session

	idleMu sync.Mutex
	idle   []*Session // MRU at index 0

	createdTotal atomic.Int64
	reusedTotal  atomic.Int64

	// spawnFn creates and starts a brand new session. Overridden in tests
	// to avoid forking real shells.
	spawnFn func(workingDir, title string) (*Session, error)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPool constructs a Pool bound to the given resource Monitor for
// admission decisions.
func NewPool(cfg Config, monitor *resource.Monitor) *Pool {
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = DefaultScrollbackLines
	}
	p := &Pool{
		cfg:     cfg,
		monitor: monitor,
		tmux:    NewTmuxResolver(),
		active:  make(map[uuid.UUID]*Session),
		stopCh:  make(chan struct{}),
	}
	p.spawnFn = p.defaultSpawn
	return p
}

func (p *Pool) defaultSpawn(workingDir, title string) (*Session, error) {
	s := newSession(workingDir, title, p.cfg.ScrollbackLines, p.cfg.AttentionConfidenceFloor)
	if err := s.spawn(); err != nil {
		return nil, err
	}
	if pid := s.pid(); pid != 0 && p.tmux != nil {
		if target, ok := p.tmux.Resolve(pid); ok {
			s.mu.Lock()
			s.tmuxTarget = target
			s.mu.Unlock()
		}
	}
	return s, nil
}

func (s *Session) pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Counts implements resource.CountsFunc for registration with the Monitor.
func (p *Pool) Counts() (active, idle int) {
	p.activeMu.RLock()
	active = len(p.active)
	p.activeMu.RUnlock()

	p.idleMu.Lock()
	idle = len(p.idle)
	p.idleMu.Unlock()
	return
}

// CreateOrAttach creates a new session, or repurposes a healthy idle one,
// for the given working directory (spec.md §4.5).
func (p *Pool) CreateOrAttach(ctx context.Context, workingDir, title string) (uuid.UUID, error) {
	p.activeMu.Lock()
	if p.cfg.MaxTerminals > 0 && len(p.active) >= p.cfg.MaxTerminals {
		p.activeMu.Unlock()
		return uuid.Nil, ErrAtCapacity
	}
	if p.monitor != nil && !p.monitor.MayCreateSession() {
		p.activeMu.Unlock()
		return uuid.Nil, ErrAtCapacity
	}

	if s := p.popBestIdle(workingDir); s != nil {
		s.repurpose(workingDir, title)
		p.active[s.ID] = s
		p.reusedTotal.Add(1)
		p.activeMu.Unlock()
		return s.ID, nil
	}
	p.activeMu.Unlock()

	s, err := p.spawnFn(workingDir, title)
	if err != nil {
		return uuid.Nil, err
	}
	p.createdTotal.Add(1)

	p.activeMu.Lock()
	// Re-check capacity: a concurrent create may have filled the last slot
	// while this one was spawning (spec.md §4.5 tie-break).
	if p.cfg.MaxTerminals > 0 && len(p.active) >= p.cfg.MaxTerminals {
		p.activeMu.Unlock()
		s.destroy()
		return uuid.Nil, ErrAtCapacity
	}
	p.active[s.ID] = s
	p.activeMu.Unlock()

	return s.ID, nil
}

// popBestIdle removes and returns the best idle candidate for workingDir:
// an exact working-directory match wins ties over plain MRU order
// (spec.md §4.5 "Tie-breaks"). Caller must hold activeMu for writing (idle
// pool uses its own lock internally regardless).
func (p *Pool) popBestIdle(workingDir string) *Session {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()

	if len(p.idle) == 0 {
		return nil
	}

	best := -1
	for i, s := range p.idle {
		if !s.healthy() {
			continue
		}
		if best == -1 {
			best = i
		}
		if s.WorkingDir == workingDir {
			best = i
			break
		}
	}
	if best == -1 {
		return nil
	}

	s := p.idle[best]
	p.idle = append(p.idle[:best], p.idle[best+1:]...)
	return s
}

// Detach removes a session from the active map. Healthy sessions within the
// freshness window return to the idle pool (MRU at head); others are
// destroyed (spec.md §4.5).
func (p *Pool) Detach(id uuid.UUID) error {
	p.activeMu.Lock()
	s, ok := p.active[id]
	if !ok {
		p.activeMu.Unlock()
		return ErrNotFound
	}
	delete(p.active, id)
	p.activeMu.Unlock()

	if s.healthy() && s.freshEnough(p.cfg.FreshnessWindow) {
		s.markIdle()
		p.idleMu.Lock()
		p.idle = append([]*Session{s}, p.idle...)
		p.idleMu.Unlock()
		return nil
	}

	s.destroy()
	return nil
}

// Terminate forcibly destroys a session regardless of health, removing it
// from whichever map currently holds it.
func (p *Pool) Terminate(id uuid.UUID) error {
	p.activeMu.Lock()
	if s, ok := p.active[id]; ok {
		delete(p.active, id)
		p.activeMu.Unlock()
		s.destroy()
		return nil
	}
	p.activeMu.Unlock()

	p.idleMu.Lock()
	for i, s := range p.idle {
		if s.ID == id {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.idleMu.Unlock()
			s.destroy()
			return nil
		}
	}
	p.idleMu.Unlock()

	return ErrNotFound
}

// SendInput writes bytes to the session's pty master (spec.md §4.5).
func (p *Pool) SendInput(id uuid.UUID, data []byte) error {
	s, err := p.lookupActive(id)
	if err != nil {
		return err
	}
	return s.write(data)
}

// ReadSnapshot returns a Descriptor copy of the session, active or idle.
func (p *Pool) ReadSnapshot(id uuid.UUID) (*Descriptor, error) {
	if s, err := p.lookupActive(id); err == nil {
		return s.snapshot(), nil
	}

	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	for _, s := range p.idle {
		if s.ID == id {
			return s.snapshot(), nil
		}
	}
	return nil, ErrNotFound
}

// ListSessions returns descriptors for all active sessions.
func (p *Pool) ListSessions() []*Descriptor {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()

	result := make([]*Descriptor, 0, len(p.active))
	for _, s := range p.active {
		result = append(result, s.snapshot())
	}
	return result
}

// SetOpacity sets a session's display opacity hint, range [0.1, 1.0].
func (p *Pool) SetOpacity(id uuid.UUID, opacity float64) error {
	s, err := p.lookupActive(id)
	if err != nil {
		return err
	}
	return s.setOpacity(opacity)
}

// Move updates a session's display position hint.
func (p *Pool) Move(id uuid.UUID, pos Position) error {
	s, err := p.lookupActive(id)
	if err != nil {
		return err
	}
	s.setPosition(pos)
	return nil
}

func (p *Pool) lookupActive(id uuid.UUID) (*Session, error) {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	s, ok := p.active[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Efficiency returns the Pool's reuse/utilization metric (spec.md §4.5):
// 0.7*reuse_ratio + 0.3*utilization. Observability only, not load-bearing.
func (p *Pool) Efficiency() float64 {
	created := p.createdTotal.Load()
	reused := p.reusedTotal.Load()

	var reuseRatio float64
	total := created + reused
	if total > 0 {
		reuseRatio = float64(reused) / float64(total)
	}

	active, idle := p.Counts()
	var utilization float64
	if active+idle > 0 {
		utilization = float64(active) / float64(active+idle)
	}

	return 0.7*reuseRatio + 0.3*utilization
}

// RunMaintenance runs the background maintenance loop (spec.md §4.5,
// cadence 30s) until ctx is cancelled: evicts stale idle entries and tops
// up the idle pool to PreallocPoolSize.
func (p *Pool) RunMaintenance(ctx context.Context) {
	interval := p.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.maintainOnce()
		}
	}
}

func (p *Pool) maintainOnce() {
	timeout := p.cfg.IdleTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	p.idleMu.Lock()
	kept := p.idle[:0:0]
	var stale []*Session
	for _, s := range p.idle {
		if s.idleAge() > timeout {
			stale = append(stale, s)
			continue
		}
		kept = append(kept, s)
	}
	p.idle = kept
	deficit := p.cfg.PreallocPoolSize - len(p.idle)
	p.idleMu.Unlock()

	for _, s := range stale {
		log.Printf("[terminal] destroying idle session %s after %s idle", s.ID, timeout)
		s.destroy()
	}

	for i := 0; i < deficit; i++ {
		s, err := p.spawnFn("", "")
		if err != nil {
			log.Printf("[terminal] prealloc spawn failed: %v", err)
			break
		}
		s.markIdle()
		p.idleMu.Lock()
		p.idle = append(p.idle, s)
		p.idleMu.Unlock()
	}
}

// Stop halts the maintenance loop and destroys all sessions.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.activeMu.Lock()
	for id, s := range p.active {
		delete(p.active, id)
		s.destroy()
	}
	p.activeMu.Unlock()

	p.idleMu.Lock()
	for _, s := range p.idle {
		s.destroy()
	}
	p.idle = nil
	p.idleMu.Unlock()
}
