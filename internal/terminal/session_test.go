package terminal

import (
	"errors"
	"testing"
)

type fakeMaster struct {
	written  [][]byte
	writeErr error
	closed   bool
}

func (f *fakeMaster) Read(p []byte) (int, error) { return 0, errors.New("no data") }
func (f *fakeMaster) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)
	return len(p), nil
}
func (f *fakeMaster) Close() error { f.closed = true; return nil }

func newTestSession() *Session {
	s := newSession("/tmp/project", "test", DefaultScrollbackLines, 0.6)
	s.master = &fakeMaster{}
	s.status = StatusRunning
	return s
}

func TestSessionAppendOutputDetectsAttention(t *testing.T) {
	s := newTestSession()
	s.appendOutput("Overwrite existing file? [y/n] ")

	if !s.attentionFlag {
		t.Errorf("attentionFlag = false, want true after bracketed prompt output")
	}
	if s.status != StatusWaiting {
		t.Errorf("status = %s, want %s", s.status, StatusWaiting)
	}
}

func TestSessionWriteClearsAttention(t *testing.T) {
	s := newTestSession()
	s.attentionFlag = true
	s.status = StatusWaiting

	if err := s.write([]byte("y\n")); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if s.attentionFlag {
		t.Errorf("attentionFlag = true after write, want false")
	}
	if s.status != StatusRunning {
		t.Errorf("status = %s, want %s", s.status, StatusRunning)
	}

	fm := s.master.(*fakeMaster)
	if len(fm.written) != 1 || string(fm.written[0]) != "y\n" {
		t.Errorf("written = %v, want [\"y\\n\"]", fm.written)
	}
}

func TestSessionWriteNoMasterFails(t *testing.T) {
	s := newTestSession()
	s.master = nil

	err := s.write([]byte("x"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("write() error = %v, want wrapping ErrWriteFailed", err)
	}
}

func TestSessionWritePropagatesMasterError(t *testing.T) {
	s := newTestSession()
	s.master = &fakeMaster{writeErr: errors.New("broken pipe")}

	err := s.write([]byte("x"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("write() error = %v, want wrapping ErrWriteFailed", err)
	}
}

func TestSessionHealthy(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Session)
		want   bool
	}{
		{name: "running with open master", modify: func(s *Session) {}, want: true},
		{name: "nil master", modify: func(s *Session) { s.master = nil }, want: false},
		{name: "completed status", modify: func(s *Session) { s.status = StatusCompleted }, want: false},
		{name: "error status", modify: func(s *Session) { s.status = StatusError }, want: false},
		{name: "last write error", modify: func(s *Session) { s.lastWriteErr = errors.New("boom") }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			tt.modify(s)
			if got := s.healthy(); got != tt.want {
				t.Errorf("healthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionSetOpacityRange(t *testing.T) {
	s := newTestSession()

	if err := s.setOpacity(0.5); err != nil {
		t.Errorf("setOpacity(0.5) error = %v, want nil", err)
	}
	if s.opacity != 0.5 {
		t.Errorf("opacity = %v, want 0.5", s.opacity)
	}

	if err := s.setOpacity(0.05); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("setOpacity(0.05) error = %v, want ErrOutOfRange", err)
	}
	if err := s.setOpacity(1.5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("setOpacity(1.5) error = %v, want ErrOutOfRange", err)
	}
}

func TestSessionRepurpose(t *testing.T) {
	s := newTestSession()
	s.status = StatusIdle
	s.attentionFlag = true

	s.repurpose("/tmp/other", "renamed")

	if s.WorkingDir != "/tmp/other" || s.Title != "renamed" {
		t.Errorf("repurpose did not update identity fields: %+v", s)
	}
	if s.status != StatusRunning {
		t.Errorf("status = %s, want %s", s.status, StatusRunning)
	}
	if s.attentionFlag {
		t.Errorf("attentionFlag = true after repurpose, want false")
	}
	if !s.reused {
		t.Errorf("reused = false, want true")
	}
}

func TestSessionSnapshotIsolatesBuffer(t *testing.T) {
	s := newTestSession()
	s.appendOutput("hello\n")

	desc := s.snapshot()
	desc.RecentOutput[0] = "tampered"

	if s.buffer[0] == "tampered" {
		t.Errorf("snapshot() leaked a mutable reference to the live buffer")
	}
}

func TestSessionAppendOutputSplitsChunkedLines(t *testing.T) {
	s := newTestSession()
	s.appendOutput("line one\nline t")
	s.appendOutput("wo\nline three")

	if len(s.buffer) != 2 || s.buffer[0] != "line one" || s.buffer[1] != "line two" {
		t.Fatalf("buffer = %v, want [line one, line two]", s.buffer)
	}
	if s.partial != "line three" {
		t.Errorf("partial = %q, want %q", s.partial, "line three")
	}

	desc := s.snapshot()
	want := []string{"line one", "line two", "line three"}
	if len(desc.RecentOutput) != len(want) {
		t.Fatalf("RecentOutput = %v, want %v", desc.RecentOutput, want)
	}
	for i := range want {
		if desc.RecentOutput[i] != want[i] {
			t.Errorf("RecentOutput[%d] = %q, want %q", i, desc.RecentOutput[i], want[i])
		}
	}
}
