package knownissues

import (
	"path/filepath"
	"testing"

	"cycleforge/internal/store"
)

func TestAddDeduplicates(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "known-issues.json"))

	first := []store.KnownIssue{{ID: "k1", FilePath: "a.go", Description: "race condition in the cache writer path", Severity: store.SeverityHigh}}
	added, err := reg.Add(first, 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("expected 1 added, got %d", len(added))
	}

	dup := []store.KnownIssue{{ID: "k2", FilePath: "a.go", Description: "race condition in the cache writer path", Severity: store.SeverityHigh}}
	added, err = reg.Add(dup, 2)
	if err != nil {
		t.Fatalf("Add dup: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("expected dedup to drop the duplicate, got %d", len(added))
	}
}

func TestMarkAddressedAndGetUnresolved(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "known-issues.json"))

	if _, err := reg.Add([]store.KnownIssue{
		{ID: "k1", FilePath: "a.go", Description: "one"},
		{ID: "k2", FilePath: "b.go", Description: "two"},
	}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	unresolved, err := reg.GetUnresolved()
	if err != nil {
		t.Fatalf("GetUnresolved: %v", err)
	}
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 unresolved, got %d", len(unresolved))
	}

	if err := reg.MarkAddressed([]string{"k1"}, 3); err != nil {
		t.Fatalf("MarkAddressed: %v", err)
	}
	unresolved, err = reg.GetUnresolved()
	if err != nil {
		t.Fatalf("GetUnresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != "k2" {
		t.Fatalf("unresolved = %+v, want only k2", unresolved)
	}
}
