package run

import (
	"testing"
	"time"
)

func TestNewIDIsUnique32CharHex(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatalf("NewID produced duplicate IDs: %s", a)
	}
	if len(a) != 32 {
		t.Fatalf("NewID length = %d, want 32", len(a))
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	id := NewID()
	ns := Namespace(id)
	got, ok := IDFromNamespace(ns)
	if !ok {
		t.Fatalf("IDFromNamespace(%s) returned ok=false", ns)
	}
	if got != id {
		t.Fatalf("IDFromNamespace(%s) = %s, want %s", ns, got, id)
	}
}

func TestIDFromNamespaceRejectsUnmanaged(t *testing.T) {
	if _, ok := IDFromNamespace("kube-system"); ok {
		t.Fatal("expected ok=false for a non-managed namespace name")
	}
}

func TestImageRef(t *testing.T) {
	id := ID("abc123")
	got := ImageRef("registry.example", "proj", id)
	want := "registry.example/proj/abc123"
	if got != want {
		t.Fatalf("ImageRef = %s, want %s", got, want)
	}
}

func TestOutputBranchNameCarriesRunID(t *testing.T) {
	id := ID("deadbeef")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := OutputBranchName(id, at)
	want := "outputs-2026-01-02T03-04-05-deadbeef"
	if got != want {
		t.Fatalf("OutputBranchName = %s, want %s", got, want)
	}
}

func TestPVAndPVCNamesAreDistinct(t *testing.T) {
	id := ID("x")
	if PVName(id, "output") == PVCName(id, "output") {
		t.Fatal("PV and PVC names must not collide")
	}
}
