package terminal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aegntic/termvisor/internal/resource"
)

// fakeSpawn builds a Session backed by an in-memory fakeMaster, skipping the
// real pty/child-process fork so Pool logic can be exercised in isolation.
func fakeSpawn(workingDir, title string) (*Session, error) {
	s := newSession(workingDir, title, DefaultScrollbackLines, 0.6)
	s.master = &fakeMaster{}
	s.status = StatusRunning
	return s, nil
}

func newTestPool(cfg Config) *Pool {
	if cfg.MaxTerminals == 0 {
		cfg.MaxTerminals = 50
	}
	p := NewPool(cfg, nil)
	p.spawnFn = fakeSpawn
	return p
}

func TestCreateOrAttachSpawnsNewSession(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 2})

	id, err := p.CreateOrAttach(context.Background(), "/tmp/a", "title")
	if err != nil {
		t.Fatalf("CreateOrAttach() error = %v", err)
	}

	desc, err := p.ReadSnapshot(id)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if desc.WorkingDir != "/tmp/a" || desc.Status != StatusRunning {
		t.Errorf("descriptor = %+v, unexpected", desc)
	}
}

func TestCreateOrAttachAtCapacity(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 1})

	if _, err := p.CreateOrAttach(context.Background(), "/tmp/a", ""); err != nil {
		t.Fatalf("first CreateOrAttach() error = %v", err)
	}

	_, err := p.CreateOrAttach(context.Background(), "/tmp/b", "")
	if !errors.Is(err, ErrAtCapacity) {
		t.Errorf("second CreateOrAttach() error = %v, want ErrAtCapacity", err)
	}
}

func TestSpawn51stAtCapacity(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 50})

	for i := 0; i < 50; i++ {
		if _, err := p.CreateOrAttach(context.Background(), "/tmp/x", ""); err != nil {
			t.Fatalf("session %d: CreateOrAttach() error = %v", i, err)
		}
	}

	if len(p.ListSessions()) != 50 {
		t.Fatalf("active sessions = %d, want 50", len(p.ListSessions()))
	}
	for _, d := range p.ListSessions() {
		if d.Status != StatusRunning {
			t.Errorf("session %s status = %s, want %s", d.ID, d.Status, StatusRunning)
		}
	}

	_, err := p.CreateOrAttach(context.Background(), "/tmp/x", "")
	if !errors.Is(err, ErrAtCapacity) {
		t.Errorf("51st CreateOrAttach() error = %v, want ErrAtCapacity", err)
	}
}

func TestDetachHealthySessionReturnsToIdlePool(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5, FreshnessWindow: time.Minute})

	id, err := p.CreateOrAttach(context.Background(), "/tmp/reuse", "")
	if err != nil {
		t.Fatalf("CreateOrAttach() error = %v", err)
	}

	if err := p.Detach(id); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	if _, err := p.lookupActive(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("session still active after detach")
	}

	// Re-attaching the same working directory should reuse the idle entry,
	// not spawn a new one (spec invariant 6).
	createdBefore := p.createdTotal.Load()
	id2, err := p.CreateOrAttach(context.Background(), "/tmp/reuse", "")
	if err != nil {
		t.Fatalf("second CreateOrAttach() error = %v", err)
	}
	if id2 != id {
		t.Errorf("CreateOrAttach() reused id = %s, want original id %s", id2, id)
	}
	if p.createdTotal.Load() != createdBefore {
		t.Errorf("createdTotal changed on reuse: before=%d after=%d", createdBefore, p.createdTotal.Load())
	}
}

func TestDetachUnhealthySessionIsDestroyed(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5, FreshnessWindow: time.Minute})

	id, _ := p.CreateOrAttach(context.Background(), "/tmp/a", "")
	p.activeMu.RLock()
	s := p.active[id]
	p.activeMu.RUnlock()
	s.status = StatusError

	if err := p.Detach(id); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	p.idleMu.Lock()
	idleCount := len(p.idle)
	p.idleMu.Unlock()
	if idleCount != 0 {
		t.Errorf("unhealthy session ended up in idle pool: %d entries", idleCount)
	}
}

func TestTerminateNotFound(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5})
	if err := p.Terminate([16]byte{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Terminate() error = %v, want ErrNotFound", err)
	}
}

func TestSendInputNotFound(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5})
	if err := p.SendInput([16]byte{}, []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("SendInput() error = %v, want ErrNotFound", err)
	}
}

func TestSetOpacityOutOfRange(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5})
	id, _ := p.CreateOrAttach(context.Background(), "/tmp/a", "")

	if err := p.SetOpacity(id, 2.0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetOpacity(2.0) error = %v, want ErrOutOfRange", err)
	}
}

func TestEfficiencyMetric(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5, FreshnessWindow: time.Minute})

	id, _ := p.CreateOrAttach(context.Background(), "/tmp/a", "")
	p.Detach(id)
	p.CreateOrAttach(context.Background(), "/tmp/a", "") // reused

	eff := p.Efficiency()
	if eff <= 0 || eff > 1 {
		t.Errorf("Efficiency() = %v, want in (0, 1]", eff)
	}
}

func TestMaintainOnceEvictsStaleIdleAndPreallocs(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5, IdleTimeout: time.Nanosecond, PreallocPoolSize: 2})

	// A near-zero idle timeout means any idle entry is immediately stale.
	id, _ := p.CreateOrAttach(context.Background(), "/tmp/a", "")
	p.Detach(id)

	p.maintainOnce()

	p.idleMu.Lock()
	idleCount := len(p.idle)
	p.idleMu.Unlock()

	if idleCount != 2 {
		t.Errorf("idle count after maintenance = %d, want 2 (prealloc target)", idleCount)
	}
}

func TestCountsReflectsActiveAndIdle(t *testing.T) {
	p := newTestPool(Config{MaxTerminals: 5, FreshnessWindow: time.Minute})

	id, _ := p.CreateOrAttach(context.Background(), "/tmp/a", "")
	active, idle := p.Counts()
	if active != 1 || idle != 0 {
		t.Errorf("Counts() = (%d, %d), want (1, 0)", active, idle)
	}

	p.Detach(id)
	active, idle = p.Counts()
	if active != 0 || idle != 1 {
		t.Errorf("Counts() after detach = (%d, %d), want (0, 1)", active, idle)
	}
}

func TestMayCreateSessionGatesOnResourceMonitor(t *testing.T) {
	mon := resource.NewMonitor(resource.Thresholds{MaxSessions: 0}, resource.DefaultSampleInterval)
	mon.SetCountsHook(func() (int, int) { return 100, 0 })
	mon.Snapshot() // baseline

	p := NewPool(Config{MaxTerminals: 50}, mon)
	p.spawnFn = fakeSpawn

	// MaxSessions=0 leaves the monitor unbounded, so it admits the create
	// even though its counts hook reports 100 sessions.
	if _, err := p.CreateOrAttach(context.Background(), "/tmp/a", ""); err != nil {
		t.Fatalf("CreateOrAttach() error = %v, want nil (monitor has no session cap)", err)
	}

	// A monitor whose last sample is at its session cap refuses the create.
	capped := resource.NewMonitor(resource.Thresholds{MaxSessions: 1}, resource.DefaultSampleInterval)
	capped.SetCountsHook(func() (int, int) { return 100, 0 })
	sampled, stop := context.WithCancel(context.Background())
	stop()
	capped.Start(sampled) // takes one sample, then returns on the cancelled context
	p2 := NewPool(Config{MaxTerminals: 50}, capped)
	p2.spawnFn = fakeSpawn
	if _, err := p2.CreateOrAttach(context.Background(), "/tmp/b", ""); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("CreateOrAttach() error = %v, want ErrAtCapacity from a monitor at its session cap", err)
	}
}
