package linksync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// fakeClient fails SaveLink for any URL present in failWith; everything else
// succeeds. Calls are recorded in order.
type fakeClient struct {
	mu       sync.Mutex
	saved    []string
	failWith map[string]error
	onSave   func(url string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{failWith: map[string]error{}}
}

func (f *fakeClient) SaveLink(ctx context.Context, payload smartrack.SavePayload) (smartrack.Link, error) {
	f.mu.Lock()
	onSave := f.onSave
	err := f.failWith[payload.URL]
	if err == nil {
		f.saved = append(f.saved, payload.URL)
	}
	f.mu.Unlock()
	if onSave != nil {
		onSave(payload.URL)
	}
	if err != nil {
		return smartrack.Link{}, err
	}
	return smartrack.Link{ID: "lnk_" + payload.URL, URL: payload.URL}, nil
}

func (f *fakeClient) savedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

func (f *fakeClient) UpdateLink(ctx context.Context, id string, patch smartrack.LinkPatch) (smartrack.Link, error) {
	return smartrack.Link{}, errors.New("not used")
}

func (f *fakeClient) DeleteLink(ctx context.Context, id string) error {
	return errors.New("not used")
}

func (f *fakeClient) ListLinks(ctx context.Context) ([]smartrack.Link, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) ListCollections(ctx context.Context) ([]smartrack.Collection, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) CreateCollection(ctx context.Context, name string) (smartrack.Collection, error) {
	return smartrack.Collection{}, errors.New("not used")
}

func (f *fakeClient) ListContentTypes(ctx context.Context) ([]string, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) Stats(ctx context.Context) (smartrack.Stats, error) {
	return smartrack.Stats{}, errors.New("not used")
}

func fillQueue(t *testing.T, queue smartrack.PendingQueue, urls ...string) {
	t.Helper()
	for _, url := range urls {
		if err := queue.Enqueue(smartrack.PendingSave{Payload: smartrack.SavePayload{URL: url}}); err != nil {
			t.Fatalf("enqueue %s failed: %v", url, err)
		}
	}
}

func TestProcessorDeliversAndRemoves(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example", "https://b.example")
	client := newFakeClient()
	proc, err := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())
	if err != nil {
		t.Fatalf("new processor failed: %v", err)
	}

	summary := proc.RunOnce(context.Background())
	if summary.Attempted != 2 || summary.Succeeded != 2 || summary.Remaining != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if queue.Depth() != 0 {
		t.Fatalf("expected empty queue after delivery, got depth %d", queue.Depth())
	}
	saved := client.savedURLs()
	if len(saved) != 2 || saved[0] != "https://a.example" || saved[1] != "https://b.example" {
		t.Fatalf("expected FIFO delivery order, got %v", saved)
	}
}

func TestProcessorAnnouncesDeliveredLinks(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example", "https://b.example", "https://c.example")
	client := newFakeClient()
	client.failWith["https://b.example"] = &HTTPError{StatusCode: http.StatusInternalServerError}
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())

	var announced []string
	proc.OnSaved(func(ctx context.Context, link smartrack.Link) {
		announced = append(announced, link.ID)
	})

	proc.RunOnce(context.Background())
	if len(announced) != 2 || announced[0] != "lnk_https://a.example" || announced[1] != "lnk_https://c.example" {
		t.Fatalf("expected hook fired for delivered items only, got %v", announced)
	}
}

func TestProcessorKeepsFailedItemsInOrder(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example", "https://b.example", "https://c.example")
	client := newFakeClient()
	client.failWith["https://b.example"] = &HTTPError{StatusCode: http.StatusInternalServerError}
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())

	summary := proc.RunOnce(context.Background())
	if summary.Succeeded != 2 || summary.Remaining != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 1 || items[0].Payload.URL != "https://b.example" {
		t.Fatalf("expected the failed item retained, got %+v", items)
	}
}

func TestProcessorSkipsWithoutToken(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example")
	client := newFakeClient()
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken(""), zerolog.Nop())

	summary := proc.RunOnce(context.Background())
	if !summary.Skipped || summary.Attempted != 0 {
		t.Fatalf("expected skipped cycle, got %+v", summary)
	}
	if queue.Depth() != 1 {
		t.Fatalf("expected queue untouched on skip, got depth %d", queue.Depth())
	}
	if len(client.savedURLs()) != 0 {
		t.Fatalf("expected no network calls without a token")
	}
}

func TestProcessorHaltsOnExpiredSession(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example", "https://b.example", "https://c.example")
	client := newFakeClient()
	client.failWith["https://b.example"] = &HTTPError{StatusCode: http.StatusUnauthorized}
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())

	summary := proc.RunOnce(context.Background())
	if summary.Succeeded != 1 || summary.Remaining != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	// b failed with 401 so c was never attempted; both stay, in order.
	if len(items) != 2 || items[0].Payload.URL != "https://b.example" || items[1].Payload.URL != "https://c.example" {
		t.Fatalf("expected remainder kept after 401, got %+v", items)
	}
	saved := client.savedURLs()
	if len(saved) != 1 || saved[0] != "https://a.example" {
		t.Fatalf("expected only the first item attempted successfully, got %v", saved)
	}
}

func TestProcessorEmptyQueueIsNoOp(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	client := newFakeClient()
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())

	summary := proc.RunOnce(context.Background())
	if summary.Skipped || summary.Attempted != 0 || summary.Remaining != 0 {
		t.Fatalf("expected clean no-op on empty queue, got %+v", summary)
	}
	if len(client.savedURLs()) != 0 {
		t.Fatalf("expected no network calls on empty queue")
	}
}

func TestProcessorDefersToNextDrainWhenQueueChanges(t *testing.T) {
	queue := smartrack.NewMemoryPendingQueue(10)
	fillQueue(t, queue, "https://a.example")
	client := newFakeClient()
	// An enqueue lands while the cycle is mid-flight.
	client.onSave = func(url string) {
		fillQueue(t, queue, "https://late.example")
	}
	proc, _ := NewProcessor(queue, client, smartrack.StaticToken("tok"), zerolog.Nop())

	summary := proc.RunOnce(context.Background())
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	// The replace was stale, so the delivered item stays queued alongside the
	// late arrival and will be retried (saves are tolerated as duplicates).
	items, _, err := queue.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected both items after deferred cycle, got %+v", items)
	}
}
