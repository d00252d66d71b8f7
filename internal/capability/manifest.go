// Package capability discovers, scores, activates, and supervises
// per-project tool servers ("capability servers") launched lazily based on
// detected project context (spec.md §4.6).
package capability

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolType is a closed enumeration of what kind of work a capability performs.
type ToolType string

const (
	ToolCodeAnalysis  ToolType = "CodeAnalysis"
	ToolDocumentation ToolType = "Documentation"
	ToolTesting       ToolType = "Testing"
	ToolDeployment    ToolType = "Deployment"
	ToolDatabaseQuery ToolType = "DatabaseQuery"
	ToolFileOperation ToolType = "FileOperation"
	ToolWebRequest    ToolType = "WebRequest"
	ToolGitOperation  ToolType = "GitOperation"
	ToolScaffolding   ToolType = "Scaffolding"
	ToolOther         ToolType = "Other"
)

// Capability describes one operation a server exposes.
type Capability struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	ToolType     ToolType `yaml:"tool_type"`
	InputSchema  Schema   `yaml:"input_schema"`
	OutputSchema Schema   `yaml:"output_schema"`
}

// Schema is a minimal JSON-Schema-shaped input/output contract: required
// field names and their expected kind ("string", "number", "bool", "any").
type Schema struct {
	Required   []string          `yaml:"required"`
	Properties map[string]string `yaml:"properties"`
}

// Manifest is the discovered, on-disk description of one capability server
// (spec.md §4.6).
type Manifest struct {
	ID                     string       `yaml:"id"`
	Name                   string       `yaml:"name"`
	Version                string       `yaml:"version"`
	Executable             string       `yaml:"executable"`
	Capabilities           []Capability `yaml:"capabilities"`
	ApplicableLanguages    []string     `yaml:"applicable_languages"`
	ApplicableFrameworks   []string     `yaml:"applicable_frameworks"`
	ApplicableProjectTypes []string     `yaml:"applicable_project_types"`
}

// DiscoverManifests scans roots for *.yaml/*.yml manifest files and parses
// them. A malformed manifest is skipped rather than aborting the scan.
func DiscoverManifests(roots []string) ([]*Manifest, error) {
	var manifests []*Manifest

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil
			}
			if m.ID == "" || m.Executable == "" {
				return nil
			}
			manifests = append(manifests, &m)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return manifests, nil
}
