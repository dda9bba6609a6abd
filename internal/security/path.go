package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and paths that climb out of their
// starting directory.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}

// ResolveWithin joins a relative object key onto baseDir and guarantees
// the result stays inside baseDir.
func ResolveWithin(baseDir, rel string) (string, error) {
	if err := ValidateFilePath(rel); err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("absolute paths not allowed: %s", rel)
	}

	cleanBase := filepath.Clean(baseDir)
	full := filepath.Join(cleanBase, filepath.FromSlash(rel))
	if full != cleanBase && !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", rel)
	}
	return full, nil
}
