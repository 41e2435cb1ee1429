package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/logging"
)

// DefinitionChangeCallback is called when files of a definition change.
// defDir is the definition directory the changes belong to.
type DefinitionChangeCallback func(defDir string, changedFiles []string)

// DefinitionWatcher monitors definition directories for changed settings or backing files
type DefinitionWatcher struct {
	watcher  *fsnotify.Watcher
	callback DefinitionChangeCallback
	debounce time.Duration
	log      hclog.Logger

	// Track watched definition directories
	definitions map[string]struct{}

	// Debounce state - track by definition
	pendingByDefinition map[string]map[string]struct{}
	timer               *time.Timer
	mu                  sync.Mutex

	cancel context.CancelFunc
}

// NewDefinitionWatcher creates a new watcher for definition directories
func NewDefinitionWatcher(callback DefinitionChangeCallback, log hclog.Logger) (*DefinitionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DefinitionWatcher{
		watcher:             watcher,
		callback:            callback,
		debounce:            500 * time.Millisecond, // Debounce rapid changes
		log:                 logging.OrNull(log).Named("watcher"),
		definitions:         make(map[string]struct{}),
		pendingByDefinition: make(map[string]map[string]struct{}),
	}, nil
}

// AddDefinition starts watching a definition directory
func (dw *DefinitionWatcher) AddDefinition(defDir string) error {
	defDir = filepath.Clean(defDir)

	dw.mu.Lock()
	defer dw.mu.Unlock()

	if _, exists := dw.definitions[defDir]; exists {
		return nil // Already watching
	}
	if info, err := os.Stat(defDir); err != nil || !info.IsDir() {
		return nil // Nothing to watch; drift checks report the missing directory
	}

	if err := dw.watcher.Add(defDir); err != nil {
		return err
	}
	dw.definitions[defDir] = struct{}{}
	return nil
}

// RemoveDefinition stops watching a definition directory
func (dw *DefinitionWatcher) RemoveDefinition(defDir string) {
	defDir = filepath.Clean(defDir)

	dw.mu.Lock()
	defer dw.mu.Unlock()

	if _, exists := dw.definitions[defDir]; !exists {
		return
	}
	dw.watcher.Remove(defDir)
	delete(dw.definitions, defDir)
	delete(dw.pendingByDefinition, defDir)
}

// Watched returns the watched definition directories
func (dw *DefinitionWatcher) Watched() []string {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	out := make([]string, 0, len(dw.definitions))
	for d := range dw.definitions {
		out = append(out, d)
	}
	return out
}

// Start begins watching for file changes
func (dw *DefinitionWatcher) Start(ctx context.Context) {
	ctx, dw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-dw.watcher.Events:
				if !ok {
					return
				}
				dw.handleEvent(event)
			case err, ok := <-dw.watcher.Errors:
				if !ok {
					return
				}
				dw.log.Warn("watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (dw *DefinitionWatcher) Stop() {
	if dw.cancel != nil {
		dw.cancel()
	}
	dw.mu.Lock()
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.mu.Unlock()
	dw.watcher.Close()
}

func (dw *DefinitionWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	defDir := dw.findDefinition(event.Name)
	if defDir == "" {
		return // Not in a watched definition
	}

	if dw.pendingByDefinition[defDir] == nil {
		dw.pendingByDefinition[defDir] = make(map[string]struct{})
	}
	dw.pendingByDefinition[defDir][event.Name] = struct{}{}

	// Reset or start debounce timer
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.timer = time.AfterFunc(dw.debounce, dw.flush)
}

// findDefinition returns the watched definition directory containing path
func (dw *DefinitionWatcher) findDefinition(path string) string {
	path = filepath.Clean(path)
	if _, ok := dw.definitions[path]; ok {
		return path
	}
	for d := range dw.definitions {
		if strings.HasPrefix(path, d+string(filepath.Separator)) {
			return d
		}
	}
	return ""
}

func (dw *DefinitionWatcher) flush() {
	dw.mu.Lock()
	pending := dw.pendingByDefinition
	dw.pendingByDefinition = make(map[string]map[string]struct{})
	dw.mu.Unlock()

	if dw.callback == nil {
		return
	}

	for defDir, fileMap := range pending {
		files := make([]string, 0, len(fileMap))
		for f := range fileMap {
			files = append(files, f)
		}
		if len(files) > 0 {
			dw.callback(defDir, files)
		}
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (dw *DefinitionWatcher) SetDebounce(d time.Duration) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.debounce = d
}
