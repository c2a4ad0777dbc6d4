package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir creates the .hivemind data directory under basePath and
// returns its full path. The RAG index file and task records live here.
func EnsureDataDir(basePath string) (string, error) {
	dir := ".hivemind"
	if basePath != "" && basePath != "." {
		dir = filepath.Join(basePath, ".hivemind")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory %q: %w", dir, err)
	}
	return dir, nil
}
