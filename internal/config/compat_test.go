package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCompat(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compat.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write compat table: %v", err)
	}
	return path
}

func TestCompatTableExactMatch(t *testing.T) {
	table := NewCompatTable()
	if !table.Compatible("backend", "backend") {
		t.Error("exact match must always be compatible")
	}
	if table.Compatible("backend", "frontend") {
		t.Error("empty table must not permit substitution")
	}
}

func TestLoadCompatTable(t *testing.T) {
	path := writeCompat(t, `
substitutions:
  backend: ["fullstack"]
  testing: ["backend", "fullstack"]
`)
	table, err := LoadCompatTable(path)
	if err != nil {
		t.Fatalf("load compat table: %v", err)
	}

	if !table.Compatible("backend", "fullstack") {
		t.Error("expected fullstack to substitute for backend")
	}
	if !table.Compatible("testing", "backend") {
		t.Error("expected backend to substitute for testing")
	}
	if table.Compatible("fullstack", "backend") {
		t.Error("substitution is directional: backend must not serve fullstack")
	}
	if table.Compatible("security-scan", "fullstack") {
		t.Error("unlisted capability must require exact match")
	}
}

func TestLoadCompatTableMalformed(t *testing.T) {
	path := writeCompat(t, "substitutions: [not, a, map]")
	if _, err := LoadCompatTable(path); err == nil {
		t.Fatal("expected error for malformed table")
	}
}

func TestCompatTableSubstitutes(t *testing.T) {
	path := writeCompat(t, `
substitutions:
  docs: ["frontend"]
`)
	table, err := LoadCompatTable(path)
	if err != nil {
		t.Fatalf("load compat table: %v", err)
	}
	subs := table.Substitutes("docs")
	if len(subs) != 1 || subs[0] != "frontend" {
		t.Errorf("expected [frontend], got %v", subs)
	}
}
