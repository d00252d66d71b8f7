// Package watch provides a debounced, rate-capped filesystem event stream
// with lossy broadcast fan-out to subscribers (spec.md §4.3).
package watch

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a filesystem event.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
	KindRenamed  Kind = "renamed"
	KindMoved    Kind = "moved"
	KindChmod    Kind = "chmod"
	KindBurst    Kind = "burst"
)

// Event describes one filesystem change, or a burst marker standing in for
// a coalesced run of changes on one path.
type Event struct {
	Kind      Kind
	Path      string
	Timestamp time.Time
	Size      int64
	Ext       string
	IsDir     bool
}

// DefaultSourceExtensions is the extension allowlist used when a watcher's
// Config leaves SourceExtensions empty.
var DefaultSourceExtensions = []string{
	".go", ".rs", ".ts", ".tsx", ".js", ".jsx", ".py", ".java",
	".rb", ".c", ".cpp", ".h", ".hpp",
}

// DefaultConfigFilenames is the recognized-configuration-file allowlist
// (spec.md §4.3).
var DefaultConfigFilenames = []string{
	"Cargo.toml", "package.json", "tsconfig.json", "pyproject.toml",
	"go.mod", "pom.xml", "build.gradle", "Dockerfile", ".env",
	"Makefile", "Gemfile",
}

// triggersAttention reports whether an event for path should be propagated
// downstream as a project-change signal: the path names a source file by
// extension allowlist, or a recognized configuration filename. Chmod events
// never trigger, regardless of path (spec.md §4.3).
func triggersAttention(kind Kind, path string, sourceExt, configNames []string) bool {
	if kind == KindChmod {
		return false
	}

	base := filepath.Base(path)
	for _, name := range configNames {
		if base == name {
			return true
		}
	}

	ext := filepath.Ext(path)
	for _, allowed := range sourceExt {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}

	return false
}
