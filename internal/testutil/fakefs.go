// Package testutil holds test doubles shared across packages.
package testutil

import (
	"path/filepath"
	"sync"
	"time"
)

// FakeFS is an in-memory domain.FileSystem
type FakeFS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]time.Time
}

// NewFakeFS creates an empty fake filesystem
func NewFakeFS() *FakeFS {
	return &FakeFS{
		dirs:  make(map[string]bool),
		files: make(map[string]time.Time),
	}
}

// AddDir registers a directory
func (f *FakeFS) AddDir(path string) *FakeFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[filepath.Clean(path)] = true
	return f
}

// AddFile registers a file with its modification time
func (f *FakeFS) AddFile(path string, modTime time.Time) *FakeFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[filepath.Clean(path)] = modTime
	return f
}

// Remove deletes a file or directory entry
func (f *FakeFS) Remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, filepath.Clean(path))
	delete(f.files, filepath.Clean(path))
}

func (f *FakeFS) DirExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[filepath.Clean(path)]
}

func (f *FakeFS) FileExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[filepath.Clean(path)]
	return ok
}

func (f *FakeFS) ModTime(path string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.files[filepath.Clean(path)]
	return t, ok
}
