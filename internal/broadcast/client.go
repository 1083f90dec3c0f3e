package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrNoToken = errors.New("no auth token available")

const (
	tokenRequestWindow  = 2 * time.Second
	tokenRequestRetries = 3
)

// Client is one peer on the broadcast channel: it dials the hub, relays
// inbound messages through a Dispatcher, and can run the auth-token
// handshake against whichever peer holds a session.
type Client struct {
	url      string
	dispatch *Dispatcher
	log      zerolog.Logger

	mu    sync.Mutex
	ws    *websocket.Conn
	waits map[string]chan Message
}

func NewClient(url string, dispatch *Dispatcher, log zerolog.Logger) *Client {
	return &Client{
		url:      url,
		dispatch: dispatch,
		log:      log,
		waits:    make(map[string]chan Message),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "")
}

// Listen reads frames until the connection or context ends. Token responses
// are routed to their waiting requests; everything else goes through the
// dispatcher.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("broadcast: not connected")
	}
	for {
		var msg Message
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			return err
		}
		if msg.Type == KindAuthTokenResponse {
			c.deliver(msg)
			continue
		}
		if err := c.dispatch.Dispatch(ctx, msg); err != nil {
			c.log.Warn().Err(err).Str("type", msg.Type).Msg("broadcast handler failed")
		}
	}
}

func (c *Client) Publish(ctx context.Context, msg Message) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("broadcast: not connected")
	}
	return wsjson.Write(ctx, ws, msg)
}

// RequestAuthToken asks the other contexts for a session token. Each attempt
// gets its own message ID and a short response window; stale responses from
// earlier attempts are discarded by ID.
func (c *Client) RequestAuthToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < tokenRequestRetries; attempt++ {
		token, err := c.requestOnce(ctx)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrNoToken
}

func (c *Client) requestOnce(ctx context.Context) (string, error) {
	id := uuid.NewString()
	wait := make(chan Message, 1)
	c.mu.Lock()
	c.waits[id] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waits, id)
		c.mu.Unlock()
	}()

	if err := c.Publish(ctx, Message{Type: KindAuthTokenRequest, MessageID: id, Version: "1"}); err != nil {
		return "", err
	}

	timer := time.NewTimer(tokenRequestWindow)
	defer timer.Stop()
	select {
	case msg := <-wait:
		if msg.Token == "" {
			return "", ErrNoToken
		}
		return msg.Token, nil
	case <-timer.C:
		return "", ErrNoToken
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	wait, ok := c.waits[msg.MessageID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- msg:
	default:
	}
}
