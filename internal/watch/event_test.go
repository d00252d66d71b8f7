package watch

import "testing"

func TestTriggersAttention(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		path string
		want bool
	}{
		{"chmod never triggers", KindChmod, "/proj/Cargo.toml", false},
		{"recognized config filename", KindModified, "/proj/Cargo.toml", true},
		{"recognized extension", KindCreated, "/proj/src/main.rs", true},
		{"unrecognized extension", KindModified, "/proj/README.md", false},
		{"config filename case sensitive mismatch", KindModified, "/proj/cargo.toml", false},
		{"deleted source file triggers", KindDeleted, "/proj/src/lib.go", true},
		{"directory with no extension", KindCreated, "/proj/src", false},
		{"dockerfile recognized", KindCreated, "/proj/Dockerfile", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := triggersAttention(tt.kind, tt.path, DefaultSourceExtensions, DefaultConfigFilenames)
			if got != tt.want {
				t.Errorf("triggersAttention(%s, %q) = %v, want %v", tt.kind, tt.path, got, tt.want)
			}
		})
	}
}

func TestTriggersAttentionCustomAllowlists(t *testing.T) {
	ext := []string{".foo"}
	names := []string{"special.conf"}

	if !triggersAttention(KindModified, "/x/thing.foo", ext, names) {
		t.Errorf("expected custom extension to trigger")
	}
	if triggersAttention(KindModified, "/x/thing.rs", ext, names) {
		t.Errorf("default extension should not trigger with a custom allowlist")
	}
	if !triggersAttention(KindModified, "/x/special.conf", ext, names) {
		t.Errorf("expected custom config filename to trigger")
	}
}
