package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got := DefaultDataRoot()
	if got != filepath.Join(home, ".stacks") {
		t.Errorf("DefaultDataRoot() = %q", got)
	}
}

func TestReplicaDBPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got := ReplicaDBPath()
	if !strings.HasSuffix(got, filepath.Join(".stacks", "catalog.db")) {
		t.Errorf("ReplicaDBPath() = %q", got)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("ReplicaDBPath() not absolute: %q", got)
	}
}

func TestDebugLogPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got := DebugLogPath()
	if !strings.HasSuffix(got, filepath.Join(".stacks", "debug.log")) {
		t.Errorf("DebugLogPath() = %q", got)
	}
}
