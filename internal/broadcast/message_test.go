package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

func TestDispatcherRoutesByKind(t *testing.T) {
	dispatch := NewDispatcher()
	var got *smartrack.Link
	dispatch.Handle(KindUpsertLink, func(ctx context.Context, msg Message) error {
		got = msg.Link
		return nil
	})

	link := smartrack.Link{ID: "lnk_1", URL: "https://a.example"}
	if err := dispatch.Dispatch(context.Background(), Message{Type: KindUpsertLink, Link: &link}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got == nil || got.ID != "lnk_1" {
		t.Fatalf("expected handler to receive the link, got %+v", got)
	}
}

func TestDispatcherIgnoresUnknownKind(t *testing.T) {
	dispatch := NewDispatcher()
	dispatch.Handle(KindUpsertLink, func(ctx context.Context, msg Message) error {
		t.Errorf("handler should not run for unknown kind")
		return nil
	})
	if err := dispatch.Dispatch(context.Background(), Message{Type: "SOME_FUTURE_KIND"}); err != nil {
		t.Fatalf("expected unknown kind to be dropped silently, got %v", err)
	}
}

func TestDispatcherWrapsHandlerError(t *testing.T) {
	dispatch := NewDispatcher()
	boom := errors.New("boom")
	dispatch.Handle(KindAuthTokenRequest, func(ctx context.Context, msg Message) error {
		return boom
	})
	err := dispatch.Dispatch(context.Background(), Message{Type: KindAuthTokenRequest})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}
