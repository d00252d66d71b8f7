package terminal

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/aegntic/termvisor/internal/attention"
)

// Status is a session's lifecycle state (spec.md §3).
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusIdle      Status = "idle"
	StatusError     Status = "error"
	StatusCompleted Status = "completed"
)

// DefaultScrollbackLines is the default bounded ring buffer size (spec.md
// §3: "default 10,000 lines, discard oldest").
const DefaultScrollbackLines = 10000

// Position is a display hint for where a session's viewport is placed.
// Interpretation is left to external frontends; termvisor only stores it.
type Position struct {
	X, Y, W, H int
}

// ptyHandle is the minimal surface Session needs from a pty master. The
// real implementation is an *os.File returned by pty.Start; tests substitute
// an in-memory fake so Pool logic can be exercised without forking shells.
type ptyHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Session is one pty-backed interactive shell, exclusively owned by the
// Pool. External callers only ever see a Descriptor snapshot.
type Session struct {
	ID         uuid.UUID
	WorkingDir string
	Title      string

	mu             sync.Mutex
	status         Status
	attentionFlag  bool
	opacity        float64
	position       Position
	createdAt      time.Time
	lastActivityAt time.Time
	buffer         []string
	lastWriteErr   error
	scrollback     int

	// partial holds pty bytes read since the last newline: a read chunk
	// rarely lines up with a line boundary, so raw chunks are accumulated
	// here and only flushed into buffer one complete line at a time.
	partial string

	master   ptyHandle
	cmd      *exec.Cmd
	classify *attention.Classifier

	tmuxTarget string

	// reused records whether this pty has been handed back out of the idle
	// pool at least once. The Pool's efficiency metric keeps its own count.
	reused bool

	done chan struct{}
}

// Descriptor is the external, read-only view of a Session returned by
// read_snapshot / list_sessions (spec.md §6). It never exposes the live pty
// or child process handle.
type Descriptor struct {
	ID             uuid.UUID
	WorkingDir     string
	Title          string
	Status         Status
	AttentionFlag  bool
	Opacity        float64
	Position       Position
	CreatedAt      time.Time
	LastActivityAt time.Time
	RecentOutput   []string
	TmuxTarget     string
	PID            int
}

// newSession allocates a Session shell without spawning anything yet.
func newSession(workingDir, title string, scrollback int, confidenceFloor float64) *Session {
	if scrollback <= 0 {
		scrollback = DefaultScrollbackLines
	}
	now := time.Now()
	return &Session{
		ID:             uuid.New(),
		WorkingDir:     workingDir,
		Title:          title,
		status:         StatusStarting,
		opacity:        1.0,
		createdAt:      now,
		lastActivityAt: now,
		scrollback:     scrollback,
		classify:       attention.NewClassifier(confidenceFloor),
		done:           make(chan struct{}),
	}
}

// shellCommand returns the child command to spawn under the pty: the user's
// $SHELL, falling back to /bin/sh.
func shellCommand(workingDir string) *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	return cmd
}

// spawn starts the real pty-backed child process and begins the session's
// read loop. Returns ErrSpawnFailed wrapping the OS-level cause on failure.
func (s *Session) spawn() error {
	cmd := shellCommand(s.WorkingDir)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s.mu.Lock()
	s.master = ptmx
	s.cmd = cmd
	s.status = StatusRunning
	s.mu.Unlock()

	go s.readLoop()
	go s.waitLoop()

	return nil
}

// readLoop is the session's dedicated pty-read task (spec.md §5): it feeds
// output into the bounded buffer and the Attention Detector in arrival order.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			s.appendOutput(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// waitLoop observes child exit and transitions status accordingly
// (spec.md §4.5: "If child exits while in active map...").
func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	s.mu.Lock()
	if err == nil {
		s.status = StatusCompleted
	} else {
		s.status = StatusError
	}
	s.attentionFlag = true
	s.mu.Unlock()
	close(s.done)
}

// appendOutput splits raw pty bytes into complete lines before buffering, so
// a ring-buffer entry is a line of output (spec.md §3) rather than whatever
// chunk size the pty read happened to return. An unterminated trailing
// fragment is held in partial until its newline arrives.
func (s *Session) appendOutput(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial += chunk
	lines := strings.Split(s.partial, "\n")
	s.partial = lines[len(lines)-1]
	complete := lines[:len(lines)-1]

	s.buffer = append(s.buffer, complete...)
	if len(s.buffer) > s.scrollback {
		s.buffer = s.buffer[len(s.buffer)-s.scrollback:]
	}

	window := s.buffer
	if s.partial != "" {
		window = append(append([]string{}, s.buffer...), s.partial)
	}

	cl := s.classify.Classify(window)
	if cl.Detected {
		s.attentionFlag = true
		s.status = StatusWaiting
	}
}

// write sends bytes to the pty master, updates last-activity, clears the
// attention flag, and transitions Waiting -> Running (spec.md §4.5).
func (s *Session) write(data []byte) error {
	s.mu.Lock()
	master := s.master
	s.mu.Unlock()

	if master == nil {
		return fmt.Errorf("%w: pty not open", ErrWriteFailed)
	}

	_, err := master.Write(data)

	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.lastWriteErr = err
	if err == nil {
		s.attentionFlag = false
		if s.status == StatusWaiting {
			s.status = StatusRunning
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// healthy reports whether the session is eligible for idle reuse (spec.md
// §4.5 "Health"): child has not exited, pty descriptors are open, last write
// succeeded, attention state is a valid enumerant.
func (s *Session) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthyLocked()
}

func (s *Session) healthyLocked() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if s.master == nil {
		return false
	}
	if s.lastWriteErr != nil {
		return false
	}
	switch s.status {
	case StatusStarting, StatusRunning, StatusWaiting, StatusIdle:
		return true
	default:
		return false
	}
}

// repurpose resets a reused idle session for a new working directory and
// title without tearing down its underlying pty (spec.md §4.5 step 2).
func (s *Session) repurpose(workingDir, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WorkingDir = workingDir
	s.Title = title
	s.status = StatusRunning
	s.attentionFlag = false
	s.lastActivityAt = time.Now()
	s.reused = true
}

// markIdle transitions a detached-but-healthy session into the idle pool.
func (s *Session) markIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.lastActivityAt = time.Now()
}

// idleAge reports how long the session has been idle.
func (s *Session) idleAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivityAt)
}

// freshEnough reports whether last activity is within window — used by
// detach to decide idle-pool eligibility (spec.md §4.5: "last-activity
// within configured freshness window").
func (s *Session) freshEnough(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivityAt) <= window
}

func (s *Session) setOpacity(opacity float64) error {
	if opacity < 0.1 || opacity > 1.0 {
		return ErrOutOfRange
	}
	s.mu.Lock()
	s.opacity = opacity
	s.mu.Unlock()
	return nil
}

func (s *Session) setPosition(p Position) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
}

// snapshot returns a read-only Descriptor copy; callers never receive the
// live pty or buffer slice.
func (s *Session) snapshot() *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	output := make([]string, len(s.buffer), len(s.buffer)+1)
	copy(output, s.buffer)
	if s.partial != "" {
		output = append(output, s.partial)
	}

	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}

	return &Descriptor{
		ID:             s.ID,
		WorkingDir:     s.WorkingDir,
		Title:          s.Title,
		Status:         s.status,
		AttentionFlag:  s.attentionFlag,
		Opacity:        s.opacity,
		Position:       s.position,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
		RecentOutput:   output,
		TmuxTarget:     s.tmuxTarget,
		PID:            pid,
	}
}

// destroy closes the pty and kills the child process. Safe to call more
// than once.
func (s *Session) destroy() {
	s.mu.Lock()
	cmd := s.cmd
	master := s.master
	s.master = nil
	s.mu.Unlock()

	if master != nil {
		if err := master.Close(); err != nil {
			log.Printf("[terminal] session %s: pty close error: %v", s.ID, err)
		}
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			log.Printf("[terminal] session %s: kill error: %v", s.ID, err)
		}
	}
}
