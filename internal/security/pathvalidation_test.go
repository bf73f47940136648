package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "replays"), 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in root", filepath.Join(root, "filter.json"), false},
		{"nested missing file", filepath.Join(root, "replays", "dive-07.jsonl"), false},
		{"dot dot escape", filepath.Join(root, "..", "etc", "passwd"), true},
		{"other directory", filepath.Join(outside, "x.json"), true},
		{"root itself", root, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrPathEscapesRoot) {
				t.Errorf("error = %v, want ErrPathEscapesRoot", err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "evil")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "new.jsonl"), root); err == nil {
		t.Error("expected symlinked parent to be rejected")
	}
}

func TestValidatePathWithinDirectory_MissingRoot(t *testing.T) {
	if err := ValidatePathWithinDirectory("/tmp/x", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                       "unknown",
		"odom":                   "odom",
		"hugin/base_link":        "hugin_base_link",
		"particles-odom-1700000": "particles-odom-1700000",
		"../../etc":              "etc",
		"a   b":                  "a_b",
		"...":                    "unknown",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}

	if got := SanitizeFilename(strings.Repeat("x", 300)); len(got) != 128 {
		t.Errorf("len = %d, want 128", len(got))
	}
}
