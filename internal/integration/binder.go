package integration

import (
	"context"
	"sync"
	"time"

	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/project"
	"github.com/google/uuid"
)

// DefaultActivationFloor matches the analyzer selection floor (spec.md
// §4.4 step 3): a project must clear this confidence before its binding
// is considered "sufficiently analyzed" and capability servers activate.
const DefaultActivationFloor = 0.5

// Binder ties a session's working directory to its ProjectAnalysis and
// the capability servers activated for it. Every published update
// replaces the session's whole Binding/Context entry under one lock
// (spec.md §5: "the Integration component publishes binding updates
// atomically").
type Binder struct {
	detector        *project.Detector
	manager         *capability.Manager
	activationFloor float64

	mu       sync.RWMutex
	bindings map[uuid.UUID]*Binding
	contexts map[uuid.UUID]*Context
}

// NewBinder builds a Binder. activationFloor <= 0 falls back to
// DefaultActivationFloor.
func NewBinder(detector *project.Detector, manager *capability.Manager, activationFloor float64) *Binder {
	if activationFloor <= 0 {
		activationFloor = DefaultActivationFloor
	}
	return &Binder{
		detector:        detector,
		manager:         manager,
		activationFloor: activationFloor,
		bindings:        make(map[uuid.UUID]*Binding),
		contexts:        make(map[uuid.UUID]*Context),
	}
}

// AnalyzeAndActivate runs project detection for workingDir and, if the
// result clears the activation floor, activates capability servers and
// atomically replaces the session's Binding. A prior binding's servers
// are deactivated only after the new ones have been selected, so a
// concurrent reader never observes a gap.
func (b *Binder) AnalyzeAndActivate(ctx context.Context, sessionID uuid.UUID, workingDir string) (*Binding, error) {
	analysis, err := b.detector.Analyze(workingDir)
	if err != nil {
		return nil, err
	}

	b.touchContext(sessionID, workingDir, analysis)

	if analysis.Confidence < b.activationFloor {
		b.clearBinding(sessionID)
		return nil, nil
	}

	pc := capability.ProjectContext{
		Path:            workingDir,
		PrimaryLanguage: analysis.PrimaryLanguage,
		ProjectType:     analysis.BuildSystem,
	}
	for _, f := range analysis.Frameworks {
		pc.Frameworks = append(pc.Frameworks, f.Name)
	}

	// ErrNoMatch/ErrAtCapacity mean "no servers available", not a failure
	// of project detection itself: the binding still records the analysis
	// with zero activated servers.
	instances, _ := b.manager.Activate(ctx, pc)
	var caps []capability.Capability
	for _, inst := range instances {
		caps = append(caps, inst.Manifest.Capabilities...)
	}

	binding := &Binding{
		SessionID:        sessionID,
		Analysis:         analysis,
		ActivatedServers: instances,
		Capabilities:     caps,
		ActivatedAt:      time.Now(),
	}

	old := b.swapBinding(sessionID, binding)
	if old != nil {
		b.manager.Deactivate(old.ActivatedServers)
	}

	return binding, nil
}

func (b *Binder) swapBinding(sessionID uuid.UUID, binding *Binding) *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.bindings[sessionID]
	b.bindings[sessionID] = binding
	return old
}

func (b *Binder) clearBinding(sessionID uuid.UUID) {
	b.mu.Lock()
	old := b.bindings[sessionID]
	delete(b.bindings, sessionID)
	b.mu.Unlock()

	if old != nil {
		b.manager.Deactivate(old.ActivatedServers)
	}
}

func (b *Binder) touchContext(sessionID uuid.UUID, workingDir string, analysis *project.Analysis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contexts[sessionID]
	if !ok {
		c = &Context{SessionID: sessionID, Environment: map[string]string{}}
		b.contexts[sessionID] = c
	}
	c.CurrentDir = workingDir
	c.LastAnalysis = analysis
}

// RecordCommand appends a command string to the session's capped
// RecentCommands history.
func (b *Binder) RecordCommand(sessionID uuid.UUID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contexts[sessionID]
	if !ok {
		c = &Context{SessionID: sessionID, Environment: map[string]string{}}
		b.contexts[sessionID] = c
	}
	c.recordCommand(text)
}

// Binding returns the session's current binding, or nil if none exists.
func (b *Binder) Binding(sessionID uuid.UUID) *Binding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bindings[sessionID]
}

// TerminalContext returns the session's current context, or nil if none
// has been recorded yet.
func (b *Binder) TerminalContext(sessionID uuid.UUID) *Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.contexts[sessionID]
}

// Close deactivates any servers bound to sessionID and drops its
// binding/context (spec.md §3: "destroyed on session close or project
// deactivation").
func (b *Binder) Close(sessionID uuid.UUID) {
	b.mu.Lock()
	old := b.bindings[sessionID]
	delete(b.bindings, sessionID)
	delete(b.contexts, sessionID)
	b.mu.Unlock()

	if old != nil {
		b.manager.Deactivate(old.ActivatedServers)
	}
}
