package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File permission constants for files the pipeline reads or writes
const (
	// FilePermissionSecure is used for sensitive files (config, credentials, keys)
	FilePermissionSecure = 0600

	// DirPermissionSecure is used for directories containing sensitive files
	DirPermissionSecure = 0700
)

// CleanPath expands a leading ~ and returns the absolute, cleaned path
func CleanPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}
	return cleaned, nil
}

// CheckSecureFile verifies path is a regular file that only its owner can
// read or write.
func CheckSecureFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm&^FilePermissionSecure != 0 {
		return fmt.Errorf("%s has permissions %04o, expected %04o or stricter", path, perm, FilePermissionSecure)
	}
	return nil
}
