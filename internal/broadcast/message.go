package broadcast

import (
	"context"
	"fmt"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// Message kinds carried on the broadcast channel. Unknown kinds are ignored
// so newer peers can talk past older ones.
const (
	KindUpsertLink        = "UPSERT_LINK"
	KindAuthTokenRequest  = "SRT_REQUEST_AUTH_TOKEN"
	KindAuthTokenResponse = "SRT_AUTH_TOKEN_RESPONSE"
)

// Summary is the trimmed queue line-item included in flush announcements.
type Summary struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Message is the envelope for every broadcast frame. Only the fields for the
// given Type are populated.
type Message struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Version   string          `json:"version,omitempty"`
	Token     string          `json:"token,omitempty"`
	Link      *smartrack.Link `json:"link,omitempty"`
	Summaries []Summary       `json:"summaries,omitempty"`
}

// Handler processes one inbound message kind.
type Handler func(ctx context.Context, msg Message) error

// Dispatcher routes inbound messages by Type. Unregistered kinds are dropped
// without error.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Handle(kind string, h Handler) {
	d.handlers[kind] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	h, ok := d.handlers[msg.Type]
	if !ok {
		return nil
	}
	if err := h(ctx, msg); err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.Type, err)
	}
	return nil
}
