// Package integration binds a terminal session to its detected project and
// the capability servers activated for it, publishing updates atomically
// so a concurrent natural-language command always observes a consistent
// view (spec.md §3 "ActiveProjectBinding", §5 ordering guarantees).
package integration

import (
	"time"

	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/project"
	"github.com/google/uuid"
)

// Binding is the current project context activated for one session.
type Binding struct {
	SessionID        uuid.UUID
	Analysis         *project.Analysis
	ActivatedServers []*capability.Instance
	Capabilities     []capability.Capability
	ActivatedAt      time.Time
}

// Context is the per-session working state consulted by the Bridge when
// resolving a natural-language command (spec.md §3 "TerminalContext").
type Context struct {
	SessionID       uuid.UUID
	CurrentDir      string
	LastAnalysis    *project.Analysis
	RecentCommands  []string
	Environment     map[string]string
}

const maxRecentCommands = 20

// recordCommand appends text to the capped recent-command history,
// evicting the oldest entry once full.
func (c *Context) recordCommand(text string) {
	c.RecentCommands = append(c.RecentCommands, text)
	if len(c.RecentCommands) > maxRecentCommands {
		c.RecentCommands = c.RecentCommands[len(c.RecentCommands)-maxRecentCommands:]
	}
}
