// Package os holds the file system checks behind the home directory layout
// of config.EnsureRoot and the init command.
package os

import (
	"fmt"
	"os"
)

// EnsureDir creates dir and any missing parents with the given mode. A path
// which already exists must be a directory, so a stray file named like the
// home, config or data directory is reported instead of silently used.
func EnsureDir(dir string, mode os.FileMode) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("could not create directory %v: %w", dir, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("could not stat directory %v: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("%v exists and is not a directory", dir)
	}
	return nil
}

// FileExists reports whether something is already at filePath. init uses it
// to refuse overwriting a config.toml without --force.
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}
