package imagebuilder

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestTarDirPacksAllFilesRelativeToRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Dockerfile"), []byte("FROM scratch"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	r, err := tarDir(root)
	if err != nil {
		t.Fatalf("tarDir() error: %v", err)
	}

	tr := tar.NewReader(r)
	names := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		names[hdr.Name] = true
	}
	if !names["Dockerfile"] {
		t.Error("expected Dockerfile in tar output")
	}
	if !names[filepath.Join("src", "main.go")] {
		t.Error("expected src/main.go in tar output")
	}
}
