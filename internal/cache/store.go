// Package cache persists intermediate results of a run as one JSON document
// per logical key inside the build directory's cache folder.
//
// A document, once saved, is authoritative: callers check the cache before
// doing any network work and never recompute a key that already exists.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DirName is the cache folder name inside a build directory.
	DirName = "cache"
	// LockName is the lock file guarding a build directory against concurrent runs.
	LockName = ".ytzim.lock"

	docExt = ".json"
)

// Sentinel errors for cache operations.
var (
	// ErrCorrupt indicates an on-disk document could not be decoded.
	// There is no silent recovery: the cache must be cleared by the user.
	ErrCorrupt = errors.New("cache: corrupt document")
	// ErrInvalidKey indicates a key that cannot be mapped to a file name.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrLocked indicates another run holds the build directory.
	ErrLocked = errors.New("cache: build directory locked by another run")
)

// Error wraps cache errors with operation and key context.
//
//	var cacheErr *cache.Error
//	if errors.As(err, &cacheErr) {
//		fmt.Printf("%s %s failed: %v\n", cacheErr.Op, cacheErr.Key, cacheErr.Err)
//	}
type Error struct {
	// Op is the operation that failed ("load", "save", "lock").
	Op string
	// Key is the document key (or lock path).
	Key string
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the cache error.
func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *Error) Unwrap() error { return e.Err }

// Store is a flat key -> JSON document store rooted at a directory.
// It is safe for concurrent use within one process.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &Error{Op: "open", Key: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Load decodes the document saved under key into v.
// It reports false with a nil error when the key was never saved.
func (s *Store) Load(key string, v any) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &Error{Op: "load", Key: key, Err: err}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, &Error{Op: "load", Key: key, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return true, nil
}

// Save replaces the document under key with the JSON encoding of v.
// Encoding is deterministic so saving an equal value twice yields identical bytes.
func (s *Store) Save(key string, v any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := WriteFile(path, buf.Bytes()); err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Has reports whether a document exists for key.
func (s *Store) Has(key string) bool {
	path, err := s.path(key)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(path)
	return err == nil
}

// Keys lists saved keys in lexical order.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Op: "list", Key: s.dir, Err: err}
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, docExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, docExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || strings.Contains(key, "..") ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", &Error{Op: "resolve", Key: key, Err: ErrInvalidKey}
	}
	return filepath.Join(s.dir, key+docExt), nil
}

// Lock takes the run lock of buildDir so that two runs never share a build directory.
// The lock file sits next to the build tree, named ".<base>.ytzim.lock", so wiping
// the build tree keeps the lock valid and sibling build directories do not contend.
// The caller must Unlock the returned lock when the run ends.
func Lock(buildDir string, timeout time.Duration) (*FileLock, error) {
	lock := NewFileLock(LockPath(buildDir))
	if err := os.MkdirAll(filepath.Dir(lock.path), 0755); err != nil {
		return nil, &Error{Op: "lock", Key: buildDir, Err: err}
	}
	if err := lock.Lock(timeout); err != nil {
		return nil, err
	}
	return lock, nil
}

// LockPath returns the lock file guarding buildDir.
func LockPath(buildDir string) string {
	clean := filepath.Clean(buildDir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+LockName)
}
