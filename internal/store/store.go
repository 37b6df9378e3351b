// Package store persists raw .side script payloads on disk, one file per
// script id under a single root directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// Store is a flat blob store keyed by sanitized script id. Save is
// last-writer-wins; payloads are opaque text.
type Store struct {
	dir string
}

// New creates the storage root if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create script dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ValidateID rejects ids that could escape the storage root: empty ids,
// path separators, "..", and a leading dot.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fault.New(fault.InvalidID, "empty script id")
	case strings.ContainsAny(id, `/\`):
		return fault.Errorf(fault.InvalidID, "script id %q contains a path separator", id)
	case strings.Contains(id, ".."):
		return fault.Errorf(fault.InvalidID, "script id %q contains '..'", id)
	case strings.HasPrefix(id, "."):
		return fault.Errorf(fault.InvalidID, "script id %q starts with '.'", id)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id)
}

// Save writes the payload for id, replacing any previous version.
func (s *Store) Save(id string, data []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return fmt.Errorf("save script %q: %w", id, err)
	}
	return nil
}

// Get returns the payload for id.
func (s *Store) Get(id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, fault.Errorf(fault.NotFound, "script %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read script %q: %w", id, err)
	}
	return data, nil
}

// Exists reports whether a payload is stored under id.
func (s *Store) Exists(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat script %q: %w", id, err)
	}
	return true, nil
}

// List returns all stored script ids in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Delete removes the payload for id.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fault.Errorf(fault.NotFound, "script %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete script %q: %w", id, err)
	}
	return nil
}
