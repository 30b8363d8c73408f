//go:build darwin

package storage

import (
	"os"
	"path/filepath"
)

func platformConfigDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", appName, "config")
}

func platformDataDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", appName, "data")
}
