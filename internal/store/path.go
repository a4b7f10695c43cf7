package store

import (
	"os"
	"path/filepath"
)

// DefaultDataRoot returns the root directory for local replica data.
// Defaults to ~/.stacks, falls back to ./.stacks if home dir unavailable.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// Fallback to current working directory
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".stacks")
	}
	return filepath.Join(home, ".stacks")
}

// ReplicaDBPath returns the full path to the replica database file.
func ReplicaDBPath() string {
	return filepath.Join(DefaultDataRoot(), "catalog.db")
}

// DebugLogPath returns the default path for rotated debug logs.
func DebugLogPath() string {
	return filepath.Join(DefaultDataRoot(), "debug.log")
}
