package capability

import (
	"context"
	"testing"
	"time"
)

func testManifest() *Manifest {
	return &Manifest{ID: "test-server", Executable: "/bin/sleep", Version: "1.0"}
}

func TestInstanceRefcounting(t *testing.T) {
	in := newInstance("s1", "/proj", testManifest())

	in.incref()
	in.incref()
	if in.Refcount() != 2 {
		t.Fatalf("Refcount() = %d, want 2", in.Refcount())
	}

	if in.decref() {
		t.Error("decref() reported zero after first decrement from 2")
	}
	if !in.decref() {
		t.Error("decref() did not report zero after second decrement")
	}
}

func TestInstanceNextBackoffDoublesAndCaps(t *testing.T) {
	in := newInstance("s1", "/proj", testManifest())

	got := []time.Duration{}
	for i := 0; i < 8; i++ {
		got = append(got, in.nextBackoff())
	}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("nextBackoff()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestInstanceStartAndStop(t *testing.T) {
	in := newInstance("s1", "/tmp", &Manifest{ID: "s1", Executable: "cat"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Use a long-lived real child (cat blocks reading its open stdin pipe)
	// so stop() exercises the grace path.
	err := in.start(ctx, "/tmp")
	if err != nil {
		t.Skipf("skipping: could not spawn sleep on this platform: %v", err)
	}
	if in.Status() != StatusRunning {
		t.Errorf("Status() = %s, want Running", in.Status())
	}
	if in.pid() == 0 {
		t.Error("expected a nonzero pid after start")
	}

	in.stop(200 * time.Millisecond)
	if in.Status() != StatusStopped {
		t.Errorf("Status() after stop = %s, want Stopped", in.Status())
	}
}

func TestInstanceStartInvalidExecutable(t *testing.T) {
	in := newInstance("s1", "/tmp", &Manifest{ID: "s1", Executable: "/nonexistent/binary-xyz"})

	err := in.start(context.Background(), "/tmp")
	if err == nil {
		t.Fatal("expected an error starting a nonexistent executable")
	}
	if in.Status() != StatusFailed {
		t.Errorf("Status() = %s, want Failed", in.Status())
	}
}

func TestInstanceMarkHealthyResetsBackoffAfterStability(t *testing.T) {
	in := newInstance("s1", "/proj", testManifest())
	in.nextBackoff()
	in.nextBackoff()
	in.startedAt = time.Now().Add(-6 * time.Minute)

	in.markHealthy()

	if in.consecutiveFails != 0 {
		t.Errorf("consecutiveFails = %d, want 0 after stability window", in.consecutiveFails)
	}
	if in.backoff != time.Second {
		t.Errorf("backoff = %s, want reset to 1s", in.backoff)
	}
}

func TestInstanceRecordAndReadUsage(t *testing.T) {
	in := newInstance("s1", "/proj", testManifest())
	in.recordUsage(42.5, 3.2, 10)

	mem, cpu, fds := in.usage()
	if mem != 42.5 || cpu != 3.2 || fds != 10 {
		t.Errorf("usage() = (%v, %v, %v), want (42.5, 3.2, 10)", mem, cpu, fds)
	}
}
