package io

import (
	"fmt"
	"os"
	"path/filepath"
)

// MakeDirForFile creates a directory provided in the filePath. It's a no-op if
// the directory already exists.
func MakeDirForFile(filePath string, creator string) error {
	fileName := filePath
	dir := filepath.Dir(fileName)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("could not create dir for %s: %w", creator, err)
	}
	return nil
}
