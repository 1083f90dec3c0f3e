package smartrack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testQueueItem(url string) PendingSave {
	return PendingSave{Payload: SavePayload{URL: url, Source: "test"}}
}

func TestFilePendingQueuePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	queue, err := NewFilePendingQueue(path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("new file pending queue failed: %v", err)
	}
	if err := queue.Enqueue(testQueueItem("https://a.example")); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := queue.Enqueue(testQueueItem("https://b.example")); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}

	reopened, err := NewFilePendingQueue(path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items, _, err := reopened.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after reopen, got %d", len(items))
	}
	if items[0].Payload.URL != "https://a.example" || items[1].Payload.URL != "https://b.example" {
		t.Fatalf("expected FIFO order preserved, got %+v", items)
	}
	if items[0].EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueue timestamp to be set")
	}
}

func TestPendingQueueDrainIsReadOnly(t *testing.T) {
	queue := NewMemoryPendingQueue(4)
	if err := queue.Enqueue(testQueueItem("https://a.example")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := queue.Drain(); err != nil {
		t.Fatalf("first drain failed: %v", err)
	}
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected drain to leave the queue intact, got %d items", len(items))
	}
}

func TestPendingQueueReplaceRejectsStaleVersion(t *testing.T) {
	queue := NewMemoryPendingQueue(4)
	if err := queue.Enqueue(testQueueItem("https://a.example")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	_, version, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	// Concurrent enqueue between drain and replace.
	if err := queue.Enqueue(testQueueItem("https://b.example")); err != nil {
		t.Fatalf("concurrent enqueue failed: %v", err)
	}
	if err := queue.Replace(nil, version); !errors.Is(err, ErrQueueStale) {
		t.Fatalf("expected ErrQueueStale, got %v", err)
	}
	if queue.Depth() != 2 {
		t.Fatalf("expected both items to survive the stale replace, got depth %d", queue.Depth())
	}
}

func TestPendingQueueReplaceRemovesDelivered(t *testing.T) {
	queue := NewMemoryPendingQueue(4)
	for _, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		if err := queue.Enqueue(testQueueItem(url)); err != nil {
			t.Fatalf("enqueue %s failed: %v", url, err)
		}
	}
	items, version, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	// First and third delivered; the middle one failed and stays.
	if err := queue.Replace(items[1:2], version); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	remaining, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Payload.URL != "https://b.example" {
		t.Fatalf("expected only the failed item to remain, got %+v", remaining)
	}
}

func TestPendingQueueDropsOldestAtCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	queue, err := NewFilePendingQueue(path, 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("new file pending queue failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(testQueueItem(fmt.Sprintf("https://example.com/%d", i))); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected capacity-bounded queue of 3, got %d", len(items))
	}
	if items[0].Payload.URL != "https://example.com/2" || items[2].Payload.URL != "https://example.com/4" {
		t.Fatalf("expected oldest items dropped, got %+v", items)
	}
}

func TestPendingQueueRejectsEmptyURL(t *testing.T) {
	queue := NewMemoryPendingQueue(4)
	if err := queue.Enqueue(PendingSave{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty URL, got %v", err)
	}
}

func TestFilePendingQueueResetsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	if err := os.WriteFile(path, []byte(`{"version":"not-a-number","items":"nope"}`), 0o644); err != nil {
		t.Fatalf("write corrupt file failed: %v", err)
	}
	queue, err := NewFilePendingQueue(path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected corrupt file to reset, got %v", err)
	}
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty queue after reset, got %d items", len(items))
	}
	if err := queue.Enqueue(testQueueItem("https://a.example")); err != nil {
		t.Fatalf("enqueue after reset failed: %v", err)
	}
}

func TestFilePendingQueueSharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	writer, err := NewFilePendingQueue(path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("new writer queue failed: %v", err)
	}
	reader, err := NewFilePendingQueue(path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("new reader queue failed: %v", err)
	}

	if err := writer.Enqueue(testQueueItem("https://a.example")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	items, version, err := reader.Drain()
	if err != nil {
		t.Fatalf("reader drain failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected reader to see writer's enqueue, got %d items", len(items))
	}

	// The writer enqueues again before the reader replaces: the reader's
	// version token must now be stale.
	if err := writer.Enqueue(testQueueItem("https://b.example")); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if err := reader.Replace(nil, version); !errors.Is(err, ErrQueueStale) {
		t.Fatalf("expected ErrQueueStale across instances, got %v", err)
	}
	if reader.Depth() != 2 {
		t.Fatalf("expected 2 items after stale replace, got %d", reader.Depth())
	}
}
