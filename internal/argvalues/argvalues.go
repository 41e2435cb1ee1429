// Package argvalues persists the argument values previously used per definition.
// Values are kept oldest first and trimmed to a maximum length.
package argvalues

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Definitions map[string]map[int][]string `yaml:"definitions"`
}

// Store is a YAML-backed argument value history
type Store struct {
	path   string
	maxLen int
	values map[string]map[int][]string
	dirty  bool
	mu     sync.Mutex
}

// New creates an empty store that saves to path
func New(path string, maxLen int) *Store {
	return &Store{
		path:   path,
		maxLen: maxLen,
		values: make(map[string]map[int][]string),
	}
}

// Open creates a store and loads path if it exists
func Open(path string, maxLen int) (*Store, error) {
	s := New(path, maxLen)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for def, byArg := range ff.Definitions {
		for idx, vals := range byArg {
			s.set(def, idx, trim(vals, maxLen))
		}
	}
	return s, nil
}

func (s *Store) set(defDir string, argIndex int, vals []string) {
	if s.values[defDir] == nil {
		s.values[defDir] = make(map[int][]string)
	}
	s.values[defDir][argIndex] = vals
}

// Append records a used value. Repeating the most recent value is a no-op.
func (s *Store) Append(defDir string, argIndex int, value string) {
	if value == "" || s.maxLen == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.values[defDir][argIndex]
	if n := len(vals); n > 0 && vals[n-1] == value {
		return
	}
	s.set(defDir, argIndex, trim(append(vals, value), s.maxLen))
	s.dirty = true
}

// Values returns the history for one argument, oldest first
func (s *Store) Values(defDir string, argIndex int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.values[defDir][argIndex]
	cp := make([]string, len(vals))
	copy(cp, vals)
	return cp
}

// Latest returns the most recently used value
func (s *Store) Latest(defDir string, argIndex int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.values[defDir][argIndex]
	if len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

// Save writes the store if it changed since the last save
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := yaml.Marshal(fileFormat{Definitions: s.values})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

func trim(vals []string, maxLen int) []string {
	if maxLen > 0 && len(vals) > maxLen {
		vals = vals[len(vals)-maxLen:]
	}
	cp := make([]string, len(vals))
	copy(cp, vals)
	return cp
}
