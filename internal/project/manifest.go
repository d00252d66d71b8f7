package project

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSONDeps(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	deps := make([]string, 0, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name := range pkg.Dependencies {
		deps = append(deps, name)
	}
	for name := range pkg.DevDependencies {
		deps = append(deps, name)
	}
	return deps
}

func hasDep(deps []string, name string) bool {
	for _, d := range deps {
		if d == name {
			return true
		}
	}
	return false
}

// detectJSFrameworks applies the framework confidence table for
// TypeScript/JavaScript projects (spec.md §4.4 step 5).
func detectJSFrameworks(deps []string) []Framework {
	var frameworks []Framework
	if hasDep(deps, "react") {
		frameworks = append(frameworks, Framework{
			Name: "React", Confidence: 0.9,
			SuggestedCommand: []string{"npm", "start"},
		})
	}
	if hasDep(deps, "vue") {
		frameworks = append(frameworks, Framework{
			Name: "Vue", Confidence: 0.9,
			SuggestedCommand: []string{"npm", "run", "serve"},
		})
	}
	if hasDep(deps, "@angular/core") {
		frameworks = append(frameworks, Framework{
			Name: "Angular", Confidence: 0.95,
			SuggestedCommand: []string{"ng", "serve"},
		})
	}
	return frameworks
}
