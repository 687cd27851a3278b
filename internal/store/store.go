// Package store owns the shared download directory: stable key→path
// allocation, registration of finished artifacts, refcounted reads and
// TTL-based sweeping. All bookkeeping lives in one mutex-guarded index so
// concurrent generations, retrievals and the reaper never race on ad hoc
// file-existence checks.
package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get/OpenArtifact for unknown or evicted keys.
var ErrNotFound = errors.New("store: artifact not found")

// scratchPrefix marks working files used mid-pipeline. Scratch files are
// hidden from retrieval and removed on startup and by sweeps once orphaned.
const scratchPrefix = ".scratch-"

// Artifact is a finished file in the store. Callers address it only by Key;
// Path never leaves the process.
type Artifact struct {
	Key       string
	Path      string
	CreatedAt time.Time
}

type entry struct {
	path      string
	createdAt time.Time
	refs      int
}

// Store is the single owner of the download directory.
type Store struct {
	root    string
	mu      sync.Mutex
	entries map[string]*entry
	scratch map[string]struct{} // live scratch basenames, exempt from sweeps
}

// New opens (creating if needed) the store rooted at dir and rebuilds the
// index from the directory listing. Leftover scratch files from a previous
// run are removed; regular files are indexed with their mtime as creation
// time (wall clock takes over on the next Register).
func New(dir string) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	s := &Store{
		root:    root,
		entries: make(map[string]*entry),
		scratch: make(map[string]struct{}),
	}
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("store: list root: %w", err)
	}
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasPrefix(name, scratchPrefix) {
			if err := os.Remove(filepath.Join(root, name)); err != nil {
				log.Printf("store: remove stale scratch %s: %v", name, err)
			}
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		s.entries[name] = &entry{path: filepath.Join(root, name), createdAt: info.ModTime()}
	}
	if len(s.entries) > 0 {
		log.Printf("store: index rebuilt root=%q artifacts=%d", root, len(s.entries))
	}
	return s, nil
}

// Root returns the absolute store root directory.
func (s *Store) Root() string {
	return s.root
}

// Allocate returns the absolute final path for key, confined to the store
// root. Keys must be bare filenames (SafeName output plus extension); anything
// that would escape the root is rejected.
func (s *Store) Allocate(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("store: invalid key %q", key)
	}
	path := filepath.Join(s.root, key)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("store: key %q escapes root", key)
	}
	return path, nil
}

// Register records a finished file under key and returns the Artifact.
// Creation time is the wall clock now, not fs mtime. Re-registering an
// existing key overwrites the previous entry (same-title collisions are
// intentional overwrites, see DESIGN.md).
func (s *Store) Register(key, path string) Artifact {
	now := time.Now()
	s.mu.Lock()
	s.entries[key] = &entry{path: path, createdAt: now}
	s.mu.Unlock()
	return Artifact{Key: key, Path: path, CreatedAt: now}
}

// Get returns the Artifact for key, or ErrNotFound.
func (s *Store) Get(key string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return Artifact{Key: key, Path: e.path, CreatedAt: e.createdAt}, nil
}

// File is a refcounted read handle. While open, the sweeper will not evict
// the underlying artifact; Close releases the reference.
type File struct {
	*os.File
	store *Store
	key   string
}

// Close closes the file and drops the sweep guard on its key.
func (f *File) Close() error {
	err := f.File.Close()
	f.store.mu.Lock()
	if e, ok := f.store.entries[f.key]; ok && e.refs > 0 {
		e.refs--
	}
	f.store.mu.Unlock()
	return err
}

// OpenArtifact opens key for reading. The returned handle pins the artifact
// against sweeps until closed, so a retrieval in progress is never truncated
// by a same-tick eviction.
func (s *Store) OpenArtifact(key string) (*File, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			delete(s.entries, key)
			s.mu.Unlock()
			return nil, ErrNotFound
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("store: open %s: %w", key, err)
	}
	e.refs++
	s.mu.Unlock()
	return &File{File: f, store: s, key: key}, nil
}

// Scratch allocates a unique working path inside the root for an in-flight
// generation. The UUID suffix guarantees two concurrent requests never share
// a working filename; the name stays exempt from sweeps until DiscardScratch.
func (s *Store) Scratch(stem, ext string) string {
	name := fmt.Sprintf("%s%s-%s%s", scratchPrefix, SafeName(stem), uuid.NewString(), ext)
	s.mu.Lock()
	s.scratch[name] = struct{}{}
	s.mu.Unlock()
	return filepath.Join(s.root, name)
}

// DiscardScratch removes a scratch file (best effort, errors logged only)
// and releases its sweep exemption. Safe to call whether or not the file was
// ever written.
func (s *Store) DiscardScratch(path string) {
	name := filepath.Base(path)
	s.mu.Lock()
	delete(s.scratch, name)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("store: remove scratch %s: %v", name, err)
	}
}

// SweepOnce removes every entry strictly older than maxAge and returns the
// count removed. Entries with open read handles and live scratch files are
// skipped; files unknown to the index (crash leftovers) age by mtime.
// Per-entry errors are logged and do not stop the sweep.
func (s *Store) SweepOnce(maxAge time.Duration) int {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		log.Printf("store: sweep list: %v", err)
		return 0
	}
	now := time.Now()
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if _, live := s.scratch[name]; live {
			continue
		}
		e, indexed := s.entries[name]
		var createdAt time.Time
		if indexed {
			if e.refs > 0 {
				continue
			}
			createdAt = e.createdAt
		} else {
			info, err := de.Info()
			if err != nil {
				log.Printf("store: sweep stat %s: %v", name, err)
				continue
			}
			createdAt = info.ModTime()
		}
		if !expired(createdAt, now, maxAge) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			log.Printf("store: sweep remove %s: %v", name, err)
			continue
		}
		if indexed {
			delete(s.entries, name)
		}
		removed++
	}
	return removed
}

// expired reports whether an entry created at createdAt has outlived maxAge
// at now. An age of exactly maxAge is not expired.
func expired(createdAt, now time.Time, maxAge time.Duration) bool {
	return now.Sub(createdAt) > maxAge
}

// Len reports the number of indexed artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
