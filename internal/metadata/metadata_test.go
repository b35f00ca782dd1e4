package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMissingFileReturnsDefaults(t *testing.T) {
	m, err := Parse(filepath.Join(t.TempDir(), "secd.yml"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.RunFor != 3 || m.GPU {
		t.Fatalf("Parse() = %+v, want defaults", m)
	}
}

func TestParseUnparsableYAMLReturnsError(t *testing.T) {
	path := writeMetadata(t, "runfor: [this is not a scalar")
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for unparsable YAML")
	}
}

func TestParseSchemaInvalidFallsBackToDefaults(t *testing.T) {
	path := writeMetadata(t, "runfor: -1\n")
	m, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.RunFor != 3 {
		t.Fatalf("Parse() = %+v, want defaulted runfor", m)
	}
}

func TestParseValidMergesDefaults(t *testing.T) {
	path := writeMetadata(t, "gpu: true\ncache_dir: models\n")
	m, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.RunFor != 3 {
		t.Fatalf("RunFor = %v, want default 3", m.RunFor)
	}
	if !m.GPU {
		t.Fatal("GPU = false, want true")
	}
	if m.MountPath != defaultMountPath {
		t.Fatalf("MountPath = %s, want %s", m.MountPath, defaultMountPath)
	}
}

func TestHasCache(t *testing.T) {
	m := Metadata{CacheDir: "models"}
	if !m.HasCache() {
		t.Fatal("HasCache() = false, want true when CacheDir is set")
	}
	if (Metadata{}).HasCache() {
		t.Fatal("HasCache() = true, want false when CacheDir is empty")
	}
}

func writeMetadata(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secd.yml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}
