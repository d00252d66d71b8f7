package terminal

import (
	"crypto/sha256"
	"path/filepath"

	"github.com/google/uuid"
)

// PrivacyFilter applies masking and path-based filtering to session
// descriptors before they are broadcast to clients. The zero value is a
// no-op filter.
type PrivacyFilter struct {
	MaskWorkingDirs bool
	MaskSessionIDs  bool
	MaskPIDs        bool
	MaskTmuxTargets bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session with the given working directory
// should be broadcast. An empty working directory is always allowed (the
// session hasn't resolved its path yet).
func (f *PrivacyFilter) IsAllowed(workingDir string) bool {
	if workingDir == "" {
		return true
	}

	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, workingDir) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, workingDir) {
			return false
		}
	}

	return true
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories, so a pattern like "/home/user/*" matches deeply nested paths.
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a copy of the descriptor with sensitive fields masked. The
// original is never modified.
func (f *PrivacyFilter) Apply(d *Descriptor) *Descriptor {
	masked := *d

	if f.MaskWorkingDirs && masked.WorkingDir != "" {
		masked.WorkingDir = filepath.Base(masked.WorkingDir)
	}
	if f.MaskSessionIDs {
		// Preserve type by re-deriving a deterministic UUID from the hash.
		masked.ID = maskedUUID(masked.ID.String())
	}
	if f.MaskPIDs {
		masked.PID = 0
	}
	if f.MaskTmuxTargets {
		masked.TmuxTarget = ""
	}

	return &masked
}

// FilterSlice returns only allowed descriptors, masked, preserving order.
func (f *PrivacyFilter) FilterSlice(descriptors []*Descriptor) []*Descriptor {
	result := make([]*Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if !f.IsAllowed(d.WorkingDir) {
			continue
		}
		result = append(result, f.Apply(d))
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskWorkingDirs && !f.MaskSessionIDs && !f.MaskPIDs && !f.MaskTmuxTargets &&
		len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

// maskedUUID deterministically derives an opaque replacement UUID from a
// session id's string form, so masked descriptors still satisfy callers
// expecting a uuid.UUID rather than degrading the type to a string.
func maskedUUID(s string) uuid.UUID {
	h := sha256.Sum256([]byte(s))
	masked, _ := uuid.FromBytes(h[:16])
	return masked
}
