package ws

import (
	"github.com/aegntic/termvisor/internal/bridge"
	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/project"
	"github.com/aegntic/termvisor/internal/terminal"
	"github.com/aegntic/termvisor/internal/watch"
)

// MessageType tags the payload carried by a WSMessage.
type MessageType string

const (
	MsgTerminalSnapshot  MessageType = "terminal_snapshot"
	MsgTerminalDelta     MessageType = "terminal_delta"
	MsgFSEvent           MessageType = "fs_event"
	MsgProjectAnalysis   MessageType = "project_analysis"
	MsgCapabilityUpdate  MessageType = "capability_update"
	MsgAICommandResponse MessageType = "ai_command_response"
	MsgSourceHealth      MessageType = "source_health"
	MsgError             MessageType = "error"
)

// WSMessage is the envelope for every message sent over the /ws connection.
// Seq is a monotonically increasing per-broadcaster counter, letting a
// client detect a gap against the lossy filesystem event stream.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// TerminalSnapshotPayload is the full terminal roster sent on connect and
// on each snapshot tick.
type TerminalSnapshotPayload struct {
	Terminals    []*terminal.Descriptor   `json:"terminals"`
	SourceHealth []SourceHealthPayload    `json:"sourceHealth,omitempty"`
}

// TerminalDeltaPayload is a throttled batch of terminal changes (spec.md
// §4.5 activity, coalesced the same way the filesystem watcher coalesces
// bursts).
type TerminalDeltaPayload struct {
	Updates []*terminal.Descriptor `json:"updates"`
	Removed []string               `json:"removed,omitempty"`
}

// FSEventPayload mirrors one watch.Event, including KindBurst markers from
// the watcher's per-path rate cap. Dropped is the subscriber's running count
// of events discarded because its buffer was full; no burst marker is sent
// for those.
type FSEventPayload struct {
	Kind    watch.Kind `json:"kind"`
	Path    string     `json:"path"`
	IsDir   bool       `json:"isDir"`
	Dropped int        `json:"dropped,omitempty"`
}

// ProjectAnalysisPayload carries the result of an analyze_project call or
// an unsolicited re-analysis triggered by the filesystem watcher.
type ProjectAnalysisPayload struct {
	Path     string            `json:"path"`
	Analysis *project.Analysis `json:"analysis"`
}

// CapabilityUpdatePayload announces a capability server's lifecycle
// transition (spec.md §3 CapabilityServer.status).
type CapabilityUpdatePayload struct {
	ServerID    string             `json:"serverId"`
	ProjectPath string             `json:"projectPath"`
	Status      capability.Status  `json:"status"`
}

// AICommandResponsePayload carries a process_ai_command result back to the
// session that issued it.
type AICommandResponsePayload struct {
	SessionID string           `json:"sessionId"`
	Response  *bridge.Response `json:"response"`
}

// SourceHealthPayload reports one component's health (spec.md §7
// "Unhealthy" surfacing), generalized from the teacher's per-source health
// reporting. termvisord's health hook fills it for the resource monitor
// only.
type SourceHealthPayload struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

// ErrorPayload is sent when a WS-originated request fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QueueStatsPayload answers queue_stats (spec.md §6). This server admits
// session creation synchronously and fails fast over capacity rather than
// queuing (spec.md §5 backpressure), so Pending/Delayed are always 0; Total
// is the closest available analog (current active+idle terminal count).
type QueueStatsPayload struct {
	Pending int `json:"pending"`
	Delayed int `json:"delayed"`
	Total   int `json:"total"`
}
