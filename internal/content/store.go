package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"DualSpectra/internal/model"
)

// Entry is one immutable static-content record.
type Entry struct {
	Path        string
	Body        []byte
	ContentType string
	ETag        string
	Size        int64
}

// Store is an immutable in-memory index of servable file bytes, built once
// by walking the content root. Lookups need no locking.
type Store struct {
	root    string
	entries map[string]*Entry
}

// Load walks the content root and builds a new Store. Every regular file
// becomes an entry keyed by its slash-separated path relative to the root,
// with a leading slash.
func Load(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot stat content root %q: %v", model.ErrContentLoad, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: content root %q is not a directory", model.ErrContentLoad, root)
	}

	entries := make(map[string]*Entry)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %q: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		urlPath := "/" + filepath.ToSlash(rel)
		entries[urlPath] = &Entry{
			Path:        urlPath,
			Body:        body,
			ContentType: typeByExtension(path),
			ETag:        etagFor(body),
			Size:        int64(len(body)),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %q: %v", model.ErrContentLoad, root, err)
	}

	return &Store{root: root, entries: entries}, nil
}

// Get looks up an entry by exact path. There is no directory listing and no
// prefix matching.
func (s *Store) Get(path string) (*Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Root returns the directory the store was built from.
func (s *Store) Root() string {
	return s.root
}

func typeByExtension(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func etagFor(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// Library holds the current Store behind an atomic pointer so content can be
// swapped without restarting. Readers always see a complete snapshot.
type Library struct {
	current atomic.Pointer[Store]
}

// NewLibrary loads the initial store from root.
func NewLibrary(root string) (*Library, error) {
	store, err := Load(root)
	if err != nil {
		return nil, err
	}
	lib := &Library{}
	lib.current.Store(store)
	return lib, nil
}

// Current returns the active store snapshot.
func (l *Library) Current() *Store {
	return l.current.Load()
}

// Reload rebuilds the store from the original root and swaps it in
// atomically. On failure the previous snapshot stays active.
func (l *Library) Reload() error {
	store, err := Load(l.Current().Root())
	if err != nil {
		return err
	}
	l.current.Store(store)
	return nil
}
