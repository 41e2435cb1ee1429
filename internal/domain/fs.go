package domain

import (
	"os"
	"time"
)

// FileSystem answers existence and timestamp questions about paths
type FileSystem interface {
	DirExists(path string) bool
	FileExists(path string) bool
	ModTime(path string) (time.Time, bool)
}

// OSFileSystem probes the real filesystem
type OSFileSystem struct{}

func (OSFileSystem) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (OSFileSystem) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (OSFileSystem) ModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
