package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegntic/termvisor/internal/terminal"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddClient when the maximum number of
// concurrent WebSocket connections has been reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			if c.b != nil {
				c.b.RemoveClient(c)
			}
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans out terminal roster snapshots/deltas, filesystem events,
// project re-analyses, capability lifecycle transitions, and ai-command
// responses to every connected WebSocket client (spec.md §4.3 fan-out,
// generalized from the teacher's session-state broadcaster).
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	maxConns       int
	pool           *terminal.Pool
	privacy        *terminal.PrivacyFilter
	throttle       time.Duration
	snapshotTicker *time.Ticker
	pendingUpdates []*terminal.Descriptor
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
	healthHook     func() []SourceHealthPayload
	seq            atomic.Uint64
}

// NewBroadcaster builds a Broadcaster backed by pool, flushing coalesced
// terminal deltas at most once per throttle and sending a full snapshot
// every snapshotInterval.
func NewBroadcaster(pool *terminal.Pool, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		pool:     pool,
		privacy:  &terminal.PrivacyFilter{},
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacyFilter configures the privacy filter applied to all outgoing
// terminal data. Safe for concurrent use.
func (b *Broadcaster) SetPrivacyFilter(f *terminal.PrivacyFilter) {
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

// SetHealthHook registers a function that returns the current component
// health status for inclusion in snapshot broadcasts.
func (b *Broadcaster) SetHealthHook(hook func() []SourceHealthPayload) {
	b.healthHook = hook
}

func (b *Broadcaster) privacyFilter() *terminal.PrivacyFilter {
	b.mu.RLock()
	f := b.privacy
	b.mu.RUnlock()
	return f
}

// FilterTerminals applies the privacy filter to the given descriptors.
func (b *Broadcaster) FilterTerminals(descriptors []*terminal.Descriptor) []*terminal.Descriptor {
	return b.privacyFilter().FilterSlice(descriptors)
}

// AddClient registers a new WebSocket connection and sends it an initial
// snapshot. Returns ErrTooManyConnections if maxConns is already reached.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}

	c := newClient(conn, b)
	b.clients[c] = true
	b.mu.Unlock()

	b.SendSnapshot(c)

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueUpdate batches terminal descriptor changes, flushing after throttle
// (spec.md §4.5 activity reporting, same coalescing shape the filesystem
// watcher uses for burst events).
func (b *Broadcaster) QueueUpdate(descriptors []*terminal.Descriptor) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, descriptors...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueRemoval batches terminal ids that have been destroyed.
func (b *Broadcaster) QueueRemoval(ids []string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// BroadcastFSEvent forwards one filesystem event to every client verbatim
// (spec.md §4.3: events are delivered in arrival order per path, burst
// markers stand in for coalesced runs).
func (b *Broadcaster) BroadcastFSEvent(payload FSEventPayload) {
	b.broadcast(WSMessage{Type: MsgFSEvent, Payload: payload})
}

// BroadcastProjectAnalysis announces a fresh ProjectAnalysis, whether from
// an explicit analyze_project call or a watcher-triggered re-analysis.
func (b *Broadcaster) BroadcastProjectAnalysis(payload ProjectAnalysisPayload) {
	b.broadcast(WSMessage{Type: MsgProjectAnalysis, Payload: payload})
}

// BroadcastCapabilityUpdate announces a capability server lifecycle
// transition.
func (b *Broadcaster) BroadcastCapabilityUpdate(payload CapabilityUpdatePayload) {
	b.broadcast(WSMessage{Type: MsgCapabilityUpdate, Payload: payload})
}

// BroadcastAICommandResponse delivers a process_ai_command result to every
// client; callers filter by session on the receiving end, mirroring how
// terminal deltas are broadcast rather than addressed to one connection
// (this server does not track which client is "attached" to which session).
func (b *Broadcaster) BroadcastAICommandResponse(payload AICommandResponsePayload) {
	b.broadcast(WSMessage{Type: MsgAICommandResponse, Payload: payload})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	filtered := b.privacyFilter().FilterSlice(updates)
	if len(filtered) == 0 && len(removed) == 0 {
		return
	}

	msg := WSMessage{
		Type: MsgTerminalDelta,
		Payload: TerminalDeltaPayload{
			Updates: filtered,
			Removed: removed,
		},
	}
	b.broadcast(msg)
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

// snapshotMessage builds a full snapshot WSMessage including terminals and
// component health status (when a health hook is registered).
func (b *Broadcaster) snapshotMessage() WSMessage {
	payload := TerminalSnapshotPayload{}
	if b.pool != nil {
		payload.Terminals = b.privacyFilter().FilterSlice(b.pool.ListSessions())
	}
	if b.healthHook != nil {
		payload.SourceHealth = b.healthHook()
	}
	return WSMessage{
		Type:    MsgTerminalSnapshot,
		Payload: payload,
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// SendSnapshot sends a sequenced snapshot to a single client.
func (b *Broadcaster) SendSnapshot(c *client) {
	msg := b.snapshotMessage()
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// BroadcastMessage sends an arbitrary WSMessage to all connected clients.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	b.broadcast(msg)
}

// Stop stops the snapshot ticker, preventing further broadcast ticks.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
