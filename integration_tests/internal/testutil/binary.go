package testutil

import (
	"os"
	"path/filepath"
)

// GetBinaryPath returns the path to the bqflow binary for integration tests.
// It checks multiple locations in order of preference:
// 1. Current directory (./bqflow)
// 2. Parent directory (../bqflow)
// 3. bin directory (../bin/bqflow)
func GetBinaryPath() string {
	if _, err := os.Stat("bqflow"); err == nil {
		return "./bqflow"
	}

	if _, err := os.Stat("../bqflow"); err == nil {
		return "../bqflow"
	}

	binPath := filepath.Join("..", "bin", "bqflow")
	if _, err := os.Stat(binPath); err == nil {
		return binPath
	}

	return "./bqflow"
}
