// Package storage resolves where a library lives on disk: platform directories
// with XDG support, and the fixed layout inside a library root.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "shelf"

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (config.yaml)
	Data   string // Persistent data (default library root)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// DefaultLibraryRoot is where a library lives when no root is configured.
func (d *Dirs) DefaultLibraryRoot() string {
	return d.DataDir("library")
}

// Layout is the on-disk shape of one library root.
//
//	<root>/catalog.db          resources and citations (source of truth)
//	<root>/objects/ab/abcd...  content bytes, sharded by hash prefix
//	<root>/index/search.json   rebuildable search artifact
//	<root>/locks/              advisory writer lock
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// CatalogDB is the SQLite database path.
func (l Layout) CatalogDB() string {
	return filepath.Join(l.Root, "catalog.db")
}

// ObjectsDir is the content-addressed object directory.
func (l Layout) ObjectsDir() string {
	return filepath.Join(l.Root, "objects")
}

// IndexDir holds derived search artifacts.
func (l Layout) IndexDir() string {
	return filepath.Join(l.Root, "index")
}

// SearchArtifact is the serialized search index path.
func (l Layout) SearchArtifact() string {
	return filepath.Join(l.IndexDir(), "search.json")
}

// LockDir holds advisory locks.
func (l Layout) LockDir() string {
	return filepath.Join(l.Root, "locks")
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.ObjectsDir(), l.IndexDir(), l.LockDir()} {
		if err := EnsureStandardDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0700 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureStandardDir creates a directory with standard permissions (0755).
func EnsureStandardDir(path string) error {
	return EnsureDir(path, 0755)
}
