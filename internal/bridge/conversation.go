package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConversationState is the per-session state machine step for one
// process_ai_command call (spec.md §4.7, "session management").
type ConversationState string

const (
	StateIdle               ConversationState = "idle"
	StateAwaitingCapability  ConversationState = "awaiting_capability"
	StateExecuting           ConversationState = "executing"
	StateFormatting          ConversationState = "formatting"
	StateError               ConversationState = "error"
)

// maxHistory bounds each session's conversation ring buffer (spec.md §4.7:
// "the bridge retains the last 200 exchanges per session"), the same
// bounded-history idiom as the teacher's persistence layer.
const maxHistory = 200

// turn is one resolved intent/response pair.
type turn struct {
	Intent   Intent
	Response *Response
	At       time.Time
}

// conversation is one session's intent history and current state.
type conversation struct {
	state      ConversationState
	history    []turn
	lastTarget string
}

func (c *conversation) record(intent Intent, resp *Response, now time.Time) {
	c.history = append(c.history, turn{Intent: intent, Response: resp, At: now})
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	if intent.Target != "" {
		c.lastTarget = intent.Target
	}
	// Formatting and Error both funnel back to Idle once the turn is
	// recorded: the session is ready for the next command either way, it
	// never parks in Error waiting for something to clear it.
	c.state = StateIdle
}

// needsTarget reports whether action is one the follow-up resolver should
// backfill from the session's last referenced target when the new intent
// has none (a bare "explain" after "analyze src/main.go" reuses
// src/main.go).
func needsTarget(action string) bool {
	switch action {
	case "analyze", "explain":
		return true
	default:
		return false
	}
}

// Log tracks per-session conversation state and history.
type Log struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*conversation
}

// NewLog builds an empty conversation log.
func NewLog() *Log {
	return &Log{sessions: make(map[uuid.UUID]*conversation)}
}

func (l *Log) get(sessionID uuid.UUID) *conversation {
	c, ok := l.sessions[sessionID]
	if !ok {
		c = &conversation{state: StateIdle}
		l.sessions[sessionID] = c
	}
	return c
}

// ResolveFollowUp fills in intent.Target from the session's last referenced
// target when the action expects one but none was parsed.
func (l *Log) ResolveFollowUp(sessionID uuid.UUID, intent Intent) Intent {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.get(sessionID)
	if intent.Target == "" && needsTarget(intent.Action) && c.lastTarget != "" {
		intent.Target = c.lastTarget
	}
	return intent
}

// SetState transitions the session's conversation state.
func (l *Log) SetState(sessionID uuid.UUID, state ConversationState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(sessionID).state = state
}

// State returns the session's current conversation state.
func (l *Log) State(sessionID uuid.UUID) ConversationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(sessionID).state
}

// Record appends a resolved turn, stamped with now, to the session's
// history and returns the session to StateIdle.
func (l *Log) Record(sessionID uuid.UUID, intent Intent, resp *Response, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(sessionID).record(intent, resp, now)
}

// HistoryLen returns how many turns are retained for sessionID, capped at
// maxHistory.
func (l *Log) HistoryLen(sessionID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.get(sessionID).history)
}
