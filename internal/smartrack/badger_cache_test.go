package smartrack

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBadgerSnapshotCacheRoundTrip(t *testing.T) {
	cache, err := NewBadgerSnapshotCache(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("open badger cache failed: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	if _, ok, err := cache.Links("usr_1"); ok || err != nil {
		t.Fatalf("expected miss before first save, got ok=%v err=%v", ok, err)
	}
	if err := cache.SaveLinks("usr_1", []Link{{ID: "lnk_1", URL: "https://a.example"}}); err != nil {
		t.Fatalf("save links failed: %v", err)
	}
	if err := cache.SaveCollections("usr_1", []Collection{{ID: "col_1", Name: "Reading"}}); err != nil {
		t.Fatalf("save collections failed: %v", err)
	}

	links, ok, err := cache.Links("usr_1")
	if err != nil || !ok {
		t.Fatalf("expected cached links, got ok=%v err=%v", ok, err)
	}
	if len(links) != 1 || links[0].ID != "lnk_1" {
		t.Fatalf("unexpected cached links: %+v", links)
	}
	cols, ok, err := cache.Collections("usr_1")
	if err != nil || !ok {
		t.Fatalf("expected cached collections, got ok=%v err=%v", ok, err)
	}
	if len(cols) != 1 || cols[0].Name != "Reading" {
		t.Fatalf("unexpected cached collections: %+v", cols)
	}

	if _, ok, _ := cache.Links("usr_2"); ok {
		t.Fatalf("expected user isolation in badger cache")
	}
}
