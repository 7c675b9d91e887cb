// Package storage persists JSON documents under a root directory, addressed
// by logical relative paths. Writes are atomic (write-to-temp then rename)
// with a single-generation backup of the prior version, so a crash mid-write
// never leaves a partially written document behind.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store is the document storage contract consumed by the session, plan,
// and breaker persistence layers.
type Store interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Append(path string, data []byte) error
	Exists(path string) (bool, error)
	List(dir string) ([]string, error)
	EnsureDir(dir string) error
	Delete(path string) error
	// WithLock runs fn under the document's advisory lock. Intended for
	// read-modify-write sections.
	WithLock(path string, fn func() error) error
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	root  string
	locks *fileLocker
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir, locks: newFileLocker(dir)}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// resolve maps a logical relative path onto the root, rejecting escapes.
func (s *FileStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the document's bytes. Missing files surface os.ErrNotExist
// so callers can distinguish absence from corruption.
func (s *FileStore) Read(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Write atomically replaces the document. The previous version, when
// present, is preserved as a same-directory ".bak" sibling first.
func (s *FileStore) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	if prior, readErr := os.ReadFile(full); readErr == nil {
		if err := writeAtomic(full+".bak", prior); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	if err := writeAtomic(full, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the destination directory and
// renames it into place.
func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Append appends data to the document. Used for JSONL logs; appends are
// not atomic but each call writes a single line.
func (s *FileStore) Append(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the document is present.
func (s *FileStore) Exists(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// List returns the sorted logical paths of documents directly under dir.
// A missing directory yields an empty list.
func (s *FileStore) List(dir string) ([]string, error) {
	full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".bak") || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		paths = append(paths, filepath.ToSlash(filepath.Join(dir, e.Name())))
	}
	sort.Strings(paths)
	return paths, nil
}

// EnsureDir creates the directory (and parents) if needed.
func (s *FileStore) EnsureDir(dir string) error {
	full, err := s.resolve(dir)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0755)
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *FileStore) Delete(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// WithLock acquires the document's advisory lock, runs fn, and releases.
func (s *FileStore) WithLock(path string, fn func() error) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	release, err := s.locks.acquire(full)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ReadJSON reads and decodes a JSON document into v.
func ReadJSON(s Store, path string, v interface{}) error {
	data, err := s.Read(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// WriteJSON encodes v with indentation and writes it atomically.
func WriteJSON(s Store, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Write(path, append(data, '\n'))
}

// AppendJSONLine appends v as one JSON line.
func AppendJSONLine(s Store, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Append(path, append(data, '\n'))
}
