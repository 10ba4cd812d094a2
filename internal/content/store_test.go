package content

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"DualSpectra/internal/model"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	return root
}

func TestLoadIndexesFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":    "<html></html>",
		"assets/app.js": "console.log(1)",
		"data.bin":      "\x00\x01\x02",
	})

	store, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", store.Len())
	}

	entry, ok := store.Get("/index.html")
	if !ok {
		t.Fatal("expected /index.html to be indexed")
	}
	if !strings.HasPrefix(entry.ContentType, "text/html") {
		t.Errorf("expected text/html content type, got %q", entry.ContentType)
	}
	if entry.Size != int64(len("<html></html>")) {
		t.Errorf("expected size %d, got %d", len("<html></html>"), entry.Size)
	}
	if entry.ETag == "" || !strings.HasPrefix(entry.ETag, `"`) {
		t.Errorf("expected quoted etag, got %q", entry.ETag)
	}

	if _, ok := store.Get("/assets/app.js"); !ok {
		t.Error("expected nested file to be indexed with slash path")
	}
	if bin, ok := store.Get("/data.bin"); !ok || bin.ContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream fallback for unknown extension, got %+v", bin)
	}

	// Exact-path lookup only.
	if _, ok := store.Get("/assets"); ok {
		t.Error("directory paths must not resolve")
	}
	if _, ok := store.Get("index.html"); ok {
		t.Error("paths without leading slash must not resolve")
	}
}

func TestETagStableAcrossLoads(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "hello"})

	first, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	e1, _ := first.Get("/a.txt")
	e2, _ := second.Get("/a.txt")
	if e1.ETag != e2.ETag {
		t.Errorf("etag changed across loads of identical content: %q vs %q", e1.ETag, e2.ETag)
	}
}

func TestLoadMissingRoot(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing content root")
	}
	if !errors.Is(err, model.ErrContentLoad) {
		t.Errorf("expected ErrContentLoad, got %v", err)
	}
}

func TestLibraryReloadSwapsAtomically(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "one"})

	lib, err := NewLibrary(root)
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}
	before := lib.Current()

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("two"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := lib.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if lib.Current() == before {
		t.Error("expected a new store snapshot after reload")
	}
	if _, ok := before.Get("/b.txt"); ok {
		t.Error("old snapshot must not see new files")
	}
	if _, ok := lib.Current().Get("/b.txt"); !ok {
		t.Error("new snapshot must see new files")
	}
}
