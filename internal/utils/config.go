package utils

import (
	"os"
	"path/filepath"
)

// GetProjectRoot returns the nearest ancestor of the working directory that
// holds a go.mod, or "." when there is none.
func GetProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "."
}

// FindFile looks for name in the working directory, then in the project root.
// It returns "" when neither location has it.
func FindFile(name string) string {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name
		}
		return ""
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	candidate := filepath.Join(GetProjectRoot(), name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
