package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

const pendingAnnounceLimit = 50

// Hub fans messages out to every connected context: each browser tab, popup,
// or agent process dials in and receives what the others publish. A message
// received from one peer is relayed to all the others, never echoed back.
type Hub struct {
	tokens smartrack.TokenReader
	log    zerolog.Logger

	mu      sync.Mutex
	conns   map[*hubConn]struct{}
	pending []smartrack.Link
}

type hubConn struct {
	ws *websocket.Conn

	writeM sync.Mutex
}

func NewHub(tokens smartrack.TokenReader, log zerolog.Logger) *Hub {
	return &Hub{
		tokens: tokens,
		log:    log,
		conns:  make(map[*hubConn]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	conn := &hubConn{ws: ws}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug().Int("peers", total).Msg("peer connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			return
		}
		h.handleInbound(ctx, conn, msg)
	}
}

func (h *Hub) handleInbound(ctx context.Context, from *hubConn, msg Message) {
	switch msg.Type {
	case KindAuthTokenRequest:
		token := ""
		if h.tokens != nil {
			token = h.tokens.Token()
		}
		reply := Message{
			Type:      KindAuthTokenResponse,
			MessageID: msg.MessageID,
			Version:   msg.Version,
			Token:     token,
		}
		if err := from.write(ctx, reply); err != nil {
			h.log.Debug().Err(err).Msg("auth token reply failed")
		}
	case KindUpsertLink:
		if msg.Link == nil {
			return
		}
		h.publish(ctx, from, *msg.Link)
	default:
		// Ignore unknown kinds.
	}
}

// PublishUpsert announces a saved link to every connected peer. With no peer
// reachable, or when any delivery fails mid-send, the link is held in the
// pending backlog and retried on the next flush. Delivery is at-least-once;
// receivers upsert idempotently by ID.
func (h *Hub) PublishUpsert(ctx context.Context, link smartrack.Link) {
	h.publish(ctx, nil, link)
}

func (h *Hub) publish(ctx context.Context, from *hubConn, link smartrack.Link) {
	msg := Message{
		Type:      KindUpsertLink,
		Link:      &link,
		Summaries: []Summary{{URL: link.URL, Title: link.Title}},
	}
	delivered, failed := h.relay(ctx, from, msg)
	if delivered == 0 || failed > 0 {
		h.QueueAnnouncement(link)
	}
}

func (h *Hub) relay(ctx context.Context, from *hubConn, msg Message) (delivered, failed int) {
	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.conns))
	for conn := range h.conns {
		if conn != from {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.write(ctx, msg); err != nil {
			h.log.Debug().Err(err).Msg("broadcast write failed")
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

// QueueAnnouncement records an upsert no dashboard has seen yet. The backlog
// is bounded; the oldest entry is dropped when full.
func (h *Hub) QueueAnnouncement(link smartrack.Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, link)
	if len(h.pending) > pendingAnnounceLimit {
		h.pending = h.pending[len(h.pending)-pendingAnnounceLimit:]
	}
}

// FlushPending retries the queued upsert backlog. Called on the processor's
// periodic cadence so newly discovered peers learn what reached the server
// while no dashboard was open. Undeliverable entries stay queued.
func (h *Hub) FlushPending(ctx context.Context) {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	links := h.pending
	h.pending = nil
	h.mu.Unlock()

	announced := 0
	for _, link := range links {
		msg := Message{
			Type:      KindUpsertLink,
			Link:      &link,
			Summaries: []Summary{{URL: link.URL, Title: link.Title}},
		}
		delivered, failed := h.relay(ctx, nil, msg)
		if delivered == 0 || failed > 0 {
			h.QueueAnnouncement(link)
			continue
		}
		announced++
	}
	if announced > 0 {
		h.log.Info().Int("announced", announced).Msg("flushed queued upserts")
	}
}

func (c *hubConn) write(ctx context.Context, msg Message) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return wsjson.Write(writeCtx, c.ws, msg)
}
