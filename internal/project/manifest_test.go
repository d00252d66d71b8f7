package project

import "testing"

func TestReadPackageJSONDeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"dependencies": {"react": "^18.0.0"}, "devDependencies": {"jest": "^29.0.0"}}`)

	deps := readPackageJSONDeps(dir)
	if !hasDep(deps, "react") || !hasDep(deps, "jest") {
		t.Errorf("deps = %v, want react and jest", deps)
	}
}

func TestReadPackageJSONDepsMissingFile(t *testing.T) {
	dir := t.TempDir()
	if deps := readPackageJSONDeps(dir); deps != nil {
		t.Errorf("deps = %v, want nil for missing package.json", deps)
	}
}

func TestDetectJSFrameworksTable(t *testing.T) {
	tests := []struct {
		dep  string
		name string
		min  float64
	}{
		{"react", "React", 0.85},
		{"vue", "Vue", 0.85},
		{"@angular/core", "Angular", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.dep, func(t *testing.T) {
			frameworks := detectJSFrameworks([]string{tt.dep})
			if len(frameworks) != 1 {
				t.Fatalf("frameworks = %+v, want exactly one", frameworks)
			}
			if frameworks[0].Name != tt.name || frameworks[0].Confidence < tt.min {
				t.Errorf("frameworks[0] = %+v, want name=%s confidence>=%v", frameworks[0], tt.name, tt.min)
			}
		})
	}
}

func TestDetectJSFrameworksNone(t *testing.T) {
	if got := detectJSFrameworks([]string{"lodash"}); len(got) != 0 {
		t.Errorf("frameworks = %+v, want none", got)
	}
}
