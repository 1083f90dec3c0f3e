package smartrack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSnapshotCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache, err := NewFileSnapshotCache(path)
	if err != nil {
		t.Fatalf("new file cache failed: %v", err)
	}
	links := []Link{{ID: "lnk_1", URL: "https://a.example", Title: "A"}}
	if err := cache.SaveLinks("usr_1", links); err != nil {
		t.Fatalf("save links failed: %v", err)
	}
	collections := []Collection{{ID: "col_1", Name: "Reading", LinkCount: 1}}
	if err := cache.SaveCollections("usr_1", collections); err != nil {
		t.Fatalf("save collections failed: %v", err)
	}

	reopened, err := NewFileSnapshotCache(path)
	if err != nil {
		t.Fatalf("reopen cache failed: %v", err)
	}
	got, ok, err := reopened.Links("usr_1")
	if err != nil || !ok {
		t.Fatalf("expected cached links, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].ID != "lnk_1" {
		t.Fatalf("unexpected cached links: %+v", got)
	}
	cols, ok, err := reopened.Collections("usr_1")
	if err != nil || !ok {
		t.Fatalf("expected cached collections, got ok=%v err=%v", ok, err)
	}
	if len(cols) != 1 || cols[0].LinkCount != 1 {
		t.Fatalf("unexpected cached collections: %+v", cols)
	}
}

func TestSnapshotCacheMissForUnknownUser(t *testing.T) {
	cache := NewMemorySnapshotCache()
	if _, ok, err := cache.Links("usr_unknown"); ok || err != nil {
		t.Fatalf("expected miss for unknown user, got ok=%v err=%v", ok, err)
	}
}

func TestSnapshotCacheIsolatesUsers(t *testing.T) {
	cache := NewMemorySnapshotCache()
	if err := cache.SaveLinks("usr_1", []Link{{ID: "lnk_1", URL: "https://a.example"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, ok, _ := cache.Links("usr_2"); ok {
		t.Fatalf("expected user isolation in cache")
	}
}

func TestSnapshotCacheRejectsEmptyUser(t *testing.T) {
	cache := NewMemorySnapshotCache()
	if err := cache.SaveLinks("  ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank user, got %v", err)
	}
}

func TestFileSnapshotCacheDiscardsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("write corrupt file failed: %v", err)
	}
	cache, err := NewFileSnapshotCache(path)
	if err != nil {
		t.Fatalf("expected corrupt cache to open empty, got %v", err)
	}
	if _, ok, err := cache.Links("usr_1"); ok || err != nil {
		t.Fatalf("expected miss from corrupt cache, got ok=%v err=%v", ok, err)
	}
	// The cache is not authoritative, so it must be writable again.
	if err := cache.SaveLinks("usr_1", []Link{{ID: "lnk_1", URL: "https://a.example"}}); err != nil {
		t.Fatalf("save after corrupt open failed: %v", err)
	}
}
